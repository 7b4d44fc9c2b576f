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

// Package sink persists finished records and captured content. Writes are
// fire-and-forget from the engine's point of view: the sink owns its own
// durability and the engine never retries on its behalf.
package sink

// Sink is the boundary to the external data store.
type Sink interface {
	// SaveRecord stores one finished record in the named table.
	SaveRecord(table string, record interface{}) error
	// SaveContent stores captured body bytes, correlated by content hash.
	// Content is stored independently of the record referencing the hash.
	SaveContent(data []byte, hash string) error
	// LogError records a recoverable instrumentation error.
	LogError(message string) error
}
