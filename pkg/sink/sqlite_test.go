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

package sink

import (
	"encoding/json"
	"testing"

	"github.com/arkivar/httprecorder/pkg/records"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := NewSQLiteSink(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteSink() error = %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSQLiteSink_SaveRecord(t *testing.T) {
	s := newTestSink(t)

	rec := &records.Request{
		CrawlID:   "s1",
		RequestID: "1",
		URL:       "https://site.example/",
		Method:    "GET",
		TimeStamp: "2023-04-02T10:30:00.250Z",
	}
	if err := s.SaveRecord(records.TableHTTPRequests, rec); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}

	var raw string
	err := s.db.QueryRow(`
		SELECT record FROM records WHERE table_name = ?
	`, records.TableHTTPRequests).Scan(&raw)
	if err != nil {
		t.Fatalf("query record: %v", err)
	}
	var got records.Request
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if got.RequestID != "1" || got.URL != "https://site.example/" {
		t.Errorf("stored record = %+v", got)
	}
}

func TestSQLiteSink_SaveContentDeduplicates(t *testing.T) {
	s := newTestSink(t)

	if err := s.SaveContent([]byte("hello"), "abc"); err != nil {
		t.Fatalf("SaveContent() error = %v", err)
	}
	if err := s.SaveContent([]byte("hello"), "abc"); err != nil {
		t.Fatalf("SaveContent() second call error = %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM content`).Scan(&count); err != nil {
		t.Fatalf("count content: %v", err)
	}
	if count != 1 {
		t.Errorf("content rows = %v, want 1", count)
	}
}

func TestSQLiteSink_LogError(t *testing.T) {
	s := newTestSink(t)

	if err := s.LogError("something went sideways"); err != nil {
		t.Fatalf("LogError() error = %v", err)
	}

	var message string
	if err := s.db.QueryRow(`SELECT message FROM instrumentation_errors`).Scan(&message); err != nil {
		t.Fatalf("query error: %v", err)
	}
	if message != "something went sideways" {
		t.Errorf("message = %q", message)
	}
}

func TestSQLiteSink_UseAfterClose(t *testing.T) {
	s := newTestSink(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := s.SaveRecord(records.TableHTTPRequests, &records.Request{}); err == nil {
		t.Error("SaveRecord() after Close error = nil, want error")
	}
	if err := s.SaveContent([]byte("x"), "h"); err == nil {
		t.Error("SaveContent() after Close error = nil, want error")
	}
}
