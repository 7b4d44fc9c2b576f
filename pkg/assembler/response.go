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
	log "github.com/sirupsen/logrus"
)

// AssembleResponse consumes the completion-stage event and, when the
// capture policy requires it, awaits the body capture listener. A capture
// failure of any kind yields the error sentinel in place of the content
// hash; the record is emitted either way.
func (a *Assembler) AssembleResponse(ctx context.Context, ev *events.Completed) {
	rec := &records.Response{
		CrawlID:    a.crawlID,
		RequestID:  ev.RequestID,
		IsCached:   boolToInt(ev.FromCache),
		URL:        ev.URL,
		Method:     ev.Method,
		Status:     ev.StatusCode,
		StatusText: ev.StatusLine,
		TimeStamp:  records.Timestamp(ev.TimeStamp),
		Headers:    headerPairs(ev.Headers),
		Location:   locationHeader(ev.Headers),
	}

	if a.policy.ShouldCapture(ev.ResourceType) {
		rec.ContentHash = a.awaitCapture(ctx, ev)
	}

	a.registry.EvictResponse(ev.RequestID)

	if err := a.sink.SaveRecord(records.TableHTTPResponses, rec); err != nil {
		log.Errorf("Error saving response record %v: %v", ev.RequestID, err)
	}
	metrics.RecordsTotal.WithLabelValues(records.TableHTTPResponses).Inc()
}

// awaitCapture waits for the capture listener's bytes and hash, stores
// the content, and returns the hash. Any failure, including a listener
// that was never attached, degrades to the error sentinel.
func (a *Assembler) awaitCapture(ctx context.Context, ev *events.Completed) string {
	listener := a.registry.Response(ev.RequestID).Listener()
	if listener == nil {
		a.captureFailed(ev, fmt.Errorf("no capture listener attached"))
		return records.ContentHashError
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.captureWait)
	defer cancel()

	data, err := listener.Bytes(waitCtx)
	if err != nil {
		a.captureFailed(ev, err)
		return records.ContentHashError
	}
	hash, err := listener.Hash(waitCtx)
	if err != nil {
		a.captureFailed(ev, err)
		return records.ContentHashError
	}

	if err := a.sink.SaveContent(data, hash); err != nil {
		log.Errorf("Error saving content for %v: %v", ev.RequestID, err)
	}
	return hash
}

func (a *Assembler) captureFailed(ev *events.Completed, err error) {
	metrics.CaptureFailuresTotal.Inc()
	msg := fmt.Sprintf("Body capture failed for %v to %v: %v", ev.RequestID, ev.URL, err)
	log.Warn(msg)
	if err := a.sink.LogError(msg); err != nil {
		log.Errorf("Error logging to sink: %v", err)
	}
}

// locationHeader finds the redirect target with a case-insensitive name
// match, unlike the case-sensitive Content-Type scan on the request path.
func locationHeader(headers []events.HeaderEntry) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Location") {
			return h.Value
		}
	}
	return ""
}
