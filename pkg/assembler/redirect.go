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
	"github.com/arkivar/httprecorder/pkg/events"
	"github.com/arkivar/httprecorder/pkg/metrics"
	"github.com/arkivar/httprecorder/pkg/records"
	log "github.com/sirupsen/logrus"
)

// RecordRedirect emits one redirect link record immediately. It needs no
// buffered state. The successor transaction id is not knowable from the
// redirect event alone: the successor only materializes when its own
// headers-stage event arrives under a new id, and stitching the two
// together is left to downstream correlation.
func (a *Assembler) RecordRedirect(ev *events.BeforeRedirect) {
	rec := &records.Redirect{
		CrawlID:      a.crawlID,
		OldRequestID: ev.RequestID,
		NewRequestID: nil,
		TimeStamp:    records.Timestamp(ev.TimeStamp),
	}
	if err := a.sink.SaveRecord(records.TableHTTPRedirects, rec); err != nil {
		log.Errorf("Error saving redirect record %v: %v", ev.RequestID, err)
	}
	metrics.RecordsTotal.WithLabelValues(records.TableHTTPRedirects).Inc()
}
