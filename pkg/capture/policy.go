/*
 * Copyright 2024 The httprecorder authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *       http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package capture

import "github.com/arkivar/httprecorder/pkg/events"

// Policy decides whether a transaction's response body is tapped.
type Policy int

const (
	// PolicyNone never attaches a listener.
	PolicyNone Policy = iota
	// PolicyScripts attaches a listener to executable script content only.
	PolicyScripts
	// PolicyAll attaches a listener to every transaction.
	PolicyAll
)

// NewPolicy derives the policy from configuration. Capturing all content
// subsumes capturing scripts.
func NewPolicy(captureScripts, captureAllContent bool) Policy {
	switch {
	case captureAllContent:
		return PolicyAll
	case captureScripts:
		return PolicyScripts
	default:
		return PolicyNone
	}
}

// ShouldCapture reports whether a transaction with the given resource
// type gets a body listener.
func (p Policy) ShouldCapture(resourceType string) bool {
	switch p {
	case PolicyAll:
		return true
	case PolicyScripts:
		return resourceType == events.ResourceTypeScript
	default:
		return false
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyAll:
		return "all"
	case PolicyScripts:
		return "scripts"
	default:
		return "none"
	}
}
