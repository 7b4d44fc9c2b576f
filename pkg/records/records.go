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

// Package records holds the finished record shapes handed to the sink.
// Field names are the wire contract and must not change.
package records

import "time"

// Table names used with Sink.SaveRecord.
const (
	TableHTTPRequests  = "http_requests"
	TableHTTPResponses = "http_responses"
	TableHTTPRedirects = "http_redirects"
)

// ContentHashError is stored in place of a content hash when body capture
// failed. The response record is still emitted.
const ContentHashError = "<error>"

// Request is the canonical record for one assembled request.
type Request struct {
	CrawlID          string          `json:"crawl_id" rethinkdb:"crawl_id"`
	RequestID        string          `json:"request_id" rethinkdb:"request_id"`
	URL              string          `json:"url" rethinkdb:"url"`
	Method           string          `json:"method" rethinkdb:"method"`
	TimeStamp        string          `json:"time_stamp" rethinkdb:"time_stamp"`
	Headers          [][2]string     `json:"headers" rethinkdb:"headers"`
	PostBody         interface{}     `json:"post_body,omitempty" rethinkdb:"post_body,omitempty"`
	IsXHR            int             `json:"is_XHR" rethinkdb:"is_XHR"`
	IsFullPage       int             `json:"is_full_page" rethinkdb:"is_full_page"`
	IsFrameLoad      int             `json:"is_frame_load" rethinkdb:"is_frame_load"`
	TriggeringOrigin string          `json:"triggering_origin" rethinkdb:"triggering_origin"`
	LoadingOrigin    string          `json:"loading_origin" rethinkdb:"loading_origin"`
	LoadingHref      string          `json:"loading_href" rethinkdb:"loading_href"`
	ResourceType     string          `json:"resource_type" rethinkdb:"resource_type"`
	TopLevelURL      string          `json:"top_level_url" rethinkdb:"top_level_url"`
	ParentFrameID    int64           `json:"parent_frame_id" rethinkdb:"parent_frame_id"`
	FrameAncestors   []string        `json:"frame_ancestors" rethinkdb:"frame_ancestors"`
}

// Response is the canonical record for one completed response.
type Response struct {
	CrawlID     string      `json:"crawl_id" rethinkdb:"crawl_id"`
	RequestID   string      `json:"request_id" rethinkdb:"request_id"`
	IsCached    int         `json:"is_cached" rethinkdb:"is_cached"`
	URL         string      `json:"url" rethinkdb:"url"`
	Method      string      `json:"method" rethinkdb:"method"`
	Status      int         `json:"response_status" rethinkdb:"response_status"`
	StatusText  string      `json:"response_status_text" rethinkdb:"response_status_text"`
	TimeStamp   string      `json:"time_stamp" rethinkdb:"time_stamp"`
	Headers     [][2]string `json:"headers" rethinkdb:"headers"`
	Location    string      `json:"location" rethinkdb:"location"`
	ContentHash string      `json:"content_hash,omitempty" rethinkdb:"content_hash,omitempty"`
}

// Redirect links a superseded transaction id to its successor. The host
// does not surface the successor id from the redirect event alone, so
// NewRequestID is null unless a future host exposes it.
type Redirect struct {
	CrawlID      string  `json:"crawl_id" rethinkdb:"crawl_id"`
	OldRequestID string  `json:"old_request_id" rethinkdb:"old_request_id"`
	NewRequestID *string `json:"new_request_id" rethinkdb:"new_request_id"`
	TimeStamp    string  `json:"time_stamp" rethinkdb:"time_stamp"`
}

// Timestamp renders t as ISO-8601 UTC with millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
