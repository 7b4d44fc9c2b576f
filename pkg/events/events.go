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

// Package events defines the four network lifecycle event kinds delivered
// by a host event source. Each transaction id is unique among in-flight
// transactions and is the correlation key for everything downstream.
package events

import "time"

// Resource types as reported by the host event source.
const (
	ResourceTypeDocument  = "main_frame"
	ResourceTypeSubFrame  = "sub_frame"
	ResourceTypeScript    = "script"
	ResourceTypeXHR       = "xmlhttprequest"
	ResourceTypeImage     = "image"
	ResourceTypeStyle     = "stylesheet"
	ResourceTypeWebSocket = "websocket"
	ResourceTypeOther     = "other"
)

// HeaderEntry is one ordered name/value pair. Order is preserved end to
// end because the header list is part of the wire contract with the sink.
type HeaderEntry struct {
	Name  string
	Value string
}

// UploadData is one raw fragment of a request upload stream.
type UploadData struct {
	Bytes []byte
	File  string
}

// RequestBody is the upload payload carried by a BeforeRequest event.
type RequestBody struct {
	Raw   []UploadData
	Error string
}

// BeforeRequest is the body-stage event. It is the only event that carries
// the upload stream, and it may arrive before or after BeforeSendHeaders
// for the same transaction.
type BeforeRequest struct {
	RequestID    string
	URL          string
	Method       string
	TimeStamp    time.Time
	ResourceType string
	TabID        string
	FrameID      int64
	OriginURL    string
	RequestBody  *RequestBody
}

// BeforeSendHeaders is the headers-stage event.
type BeforeSendHeaders struct {
	RequestID      string
	URL            string
	Method         string
	TimeStamp      time.Time
	ResourceType   string
	TabID          string
	FrameID        int64
	ParentFrameID  int64
	FrameAncestors []string
	OriginURL      string
	DocumentURL    string
	Headers        []HeaderEntry
}

// BeforeRedirect is the redirect-stage event. The host only exposes the
// superseded transaction's id; the successor id is not knowable here.
type BeforeRedirect struct {
	RequestID   string
	URL         string
	RedirectURL string
	TimeStamp   time.Time
	StatusCode  int
	OriginURL   string
}

// Completed is the completion-stage event.
type Completed struct {
	RequestID    string
	URL          string
	Method       string
	TimeStamp    time.Time
	ResourceType string
	StatusCode   int
	StatusLine   string
	FromCache    bool
	OriginURL    string
	Headers      []HeaderEntry
}

// Header returns the value of the first header with the given name using
// a case-sensitive match, or "" if absent.
func Header(headers []HeaderEntry, name string) string {
	for _, h := range headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}
