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

package events

// Filter restricts which transactions a subscription sees. Empty slices
// select all URLs and all resource types.
type Filter struct {
	URLs  []string
	Types []string
}

// AllTraffic selects every resource type on every URL.
func AllTraffic() Filter {
	return Filter{}
}

// Subscription is the handle returned by a successful subscribe call.
// Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Source delivers the four lifecycle event kinds. Handlers may be invoked
// from multiple goroutines; a handler must not block event delivery.
type Source interface {
	OnBeforeRequest(f Filter, h func(*BeforeRequest)) (Subscription, error)
	OnBeforeSendHeaders(f Filter, h func(*BeforeSendHeaders)) (Subscription, error)
	OnBeforeRedirect(f Filter, h func(*BeforeRedirect)) (Subscription, error)
	OnCompleted(f Filter, h func(*Completed)) (Subscription, error)
}
