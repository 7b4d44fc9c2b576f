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

package assembler

import (
	"context"
	"fmt"
	"strings"

	"github.com/arkivar/httprecorder/pkg/events"
	"github.com/arkivar/httprecorder/pkg/metrics"
	"github.com/arkivar/httprecorder/pkg/records"
	"github.com/nlnwa/whatwg-url/url"
	log "github.com/sirupsen/logrus"
)

const ocspContentType = "application/ocsp-request"

// Headers recovered from the upload stream that are trusted as headers.
// Heuristic parsing can misclassify payload lines that happen to look
// like "key: value" pairs, so anything outside this list stays body.
var recoveredHeaderAllowList = []string{
	"Content-Type",
	"Content-Disposition",
	"Content-Length",
}

// AssembleRequest consumes the headers-stage event and, for POST
// transactions, the body fragment via the pending request buffer, then
// emits one canonical request record. Intended to run in its own
// goroutine; waiting on the body fragment suspends only this assembly.
func (a *Assembler) AssembleRequest(ctx context.Context, ev *events.BeforeSendHeaders) {
	rec := &records.Request{
		CrawlID:          a.crawlID,
		RequestID:        ev.RequestID,
		URL:              ev.URL,
		Method:           ev.Method,
		TimeStamp:        records.Timestamp(ev.TimeStamp),
		Headers:          headerPairs(ev.Headers),
		IsXHR:            boolToInt(ev.ResourceType == events.ResourceTypeXHR),
		IsFullPage:       boolToInt(ev.ResourceType == events.ResourceTypeDocument),
		IsFrameLoad:      boolToInt(ev.ResourceType == events.ResourceTypeSubFrame),
		TriggeringOrigin: origin(ev.OriginURL),
		LoadingOrigin:    origin(ev.DocumentURL),
		LoadingHref:      ev.DocumentURL,
		ResourceType:     ev.ResourceType,
		ParentFrameID:    ev.ParentFrameID,
		FrameAncestors:   ev.FrameAncestors,
	}

	if topLevel, err := a.tabs.TopLevelURL(ctx, ev.TabID); err != nil {
		log.Debugf("No top level url for tab %v: %v", ev.TabID, err)
	} else {
		rec.TopLevelURL = topLevel
	}

	// Case-sensitive scan; hosts deliver Content-Type with canonical
	// casing and the upload stream is keyed the same way.
	contentType := events.Header(ev.Headers, "Content-Type")

	// OCSP requests are POSTs by transport accident, not form
	// submissions. They are excluded from body processing.
	isOCSP := strings.Contains(contentType, ocspContentType)

	if ev.Method == "POST" && !isOCSP {
		a.attachPostBody(ctx, rec, ev, contentType)
	}

	a.registry.EvictRequest(ev.RequestID)

	if err := a.sink.SaveRecord(records.TableHTTPRequests, rec); err != nil {
		log.Errorf("Error saving request record %v: %v", ev.RequestID, err)
	}
	metrics.RecordsTotal.WithLabelValues(records.TableHTTPRequests).Inc()
}

func (a *Assembler) attachPostBody(ctx context.Context, rec *records.Request, ev *events.BeforeSendHeaders, contentType string) {
	body, err := a.registry.Request(ev.RequestID).Body(ctx, a.bodyWait)
	if err != nil {
		metrics.BodyWaitTimeoutsTotal.Inc()
		msg := fmt.Sprintf("Timed out waiting for body fragment of POST request %v to %v", ev.RequestID, ev.URL)
		log.Warn(msg)
		if err := a.sink.LogError(msg); err != nil {
			log.Errorf("Error logging to sink: %v", err)
		}
		return
	}

	result, err := a.parser.Parse(contentType, body.RequestBody)
	if err != nil {
		// Parse failure means "no body available", not an error.
		log.Debugf("Could not parse POST body of request %v: %v", ev.RequestID, err)
		return
	}

	for _, name := range recoveredHeaderAllowList {
		if value, ok := result.Headers[name]; ok {
			rec.Headers = mergeHeader(rec.Headers, name, value)
		}
	}
	rec.PostBody = result.Body
}

// mergeHeader replaces an existing entry with the same name or appends.
func mergeHeader(headers [][2]string, name, value string) [][2]string {
	for i, h := range headers {
		if h[0] == name {
			headers[i][1] = value
			return headers
		}
	}
	return append(headers, [2]string{name, value})
}

// origin reduces a URL to its origin serialization. Absent or
// unparseable URLs yield the empty string.
func origin(rawurl string) string {
	if rawurl == "" {
		return ""
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return u.Protocol() + "//" + u.Host()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
