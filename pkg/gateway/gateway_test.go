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

package gateway

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkivar/httprecorder/pkg/capture"
	"github.com/arkivar/httprecorder/pkg/events"
	"github.com/arkivar/httprecorder/pkg/records"
	"github.com/arkivar/httprecorder/pkg/sink"
)

// fakeSource is an in-memory events.Source with a synthetic body stream.
type fakeSource struct {
	unsubscribed    int32
	failSubscribe   bool
	onBeforeRequest func(*events.BeforeRequest)
	onSendHeaders   func(*events.BeforeSendHeaders)
	onRedirect      func(*events.BeforeRedirect)
	onCompleted     func(*events.Completed)
	bodies          map[string][]byte
	taps            map[string]*capture.Listener
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		bodies: make(map[string][]byte),
		taps:   make(map[string]*capture.Listener),
	}
}

type fakeSubscription struct {
	s *fakeSource
}

func (f *fakeSubscription) Unsubscribe() {
	atomic.AddInt32(&f.s.unsubscribed, 1)
}

func (s *fakeSource) subscribe() (events.Subscription, error) {
	if s.failSubscribe {
		return nil, fmt.Errorf("subscribe refused")
	}
	return &fakeSubscription{s: s}, nil
}

func (s *fakeSource) OnBeforeRequest(f events.Filter, fn func(*events.BeforeRequest)) (events.Subscription, error) {
	s.onBeforeRequest = fn
	return s.subscribe()
}

func (s *fakeSource) OnBeforeSendHeaders(f events.Filter, fn func(*events.BeforeSendHeaders)) (events.Subscription, error) {
	s.onSendHeaders = fn
	return s.subscribe()
}

func (s *fakeSource) OnBeforeRedirect(f events.Filter, fn func(*events.BeforeRedirect)) (events.Subscription, error) {
	s.onRedirect = fn
	return s.subscribe()
}

func (s *fakeSource) OnCompleted(f events.Filter, fn func(*events.Completed)) (events.Subscription, error) {
	s.onCompleted = fn
	return s.subscribe()
}

// Tap satisfies capture.Tapper by replaying a preloaded body.
func (s *fakeSource) Tap(requestID string, l *capture.Listener) error {
	body, ok := s.bodies[requestID]
	if !ok {
		return fmt.Errorf("unknown request %v", requestID)
	}
	s.taps[requestID] = l
	go func() {
		l.Append(body)
		l.Complete()
	}()
	return nil
}

func awaitRecords(t *testing.T, mock *sink.Mock, table string, want int) []sink.SavedRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := mock.RecordsFor(table); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := mock.RecordsFor(table)
	t.Fatalf("got %d records in %v, want %d", len(got), table, want)
	return got
}

func TestGateway_StartStopLifecycle(t *testing.T) {
	source := newFakeSource()
	g := New(source, sink.NewMock())

	if err := g.Start(Config{SessionID: "s"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if g.Subscriptions() != 4 {
		t.Errorf("Subscriptions() = %v, want 4", g.Subscriptions())
	}
	if err := g.Start(Config{SessionID: "s"}); err == nil {
		t.Error("second Start() error = nil, want error")
	}

	g.Stop()
	if g.Subscriptions() != 0 {
		t.Errorf("Subscriptions() after Stop = %v, want 0", g.Subscriptions())
	}
	if source.unsubscribed != 4 {
		t.Errorf("unsubscribed = %v, want 4", source.unsubscribed)
	}

	// Stop is idempotent.
	g.Stop()
	if source.unsubscribed != 4 {
		t.Errorf("unsubscribed after second Stop = %v, want 4", source.unsubscribed)
	}
}

func TestGateway_StopBeforeStart(t *testing.T) {
	g := New(newFakeSource(), sink.NewMock())
	g.Stop()
	g.Stop()
}

func TestGateway_StartRollsBackOnSubscribeFailure(t *testing.T) {
	source := newFakeSource()
	source.failSubscribe = true
	g := New(source, sink.NewMock())

	if err := g.Start(Config{SessionID: "s"}); err == nil {
		t.Fatal("Start() error = nil, want error")
	}
	if g.Subscriptions() != 0 {
		t.Errorf("Subscriptions() = %v, want 0", g.Subscriptions())
	}
	if err := g.Start(Config{SessionID: "s"}); err == nil {
		t.Error("Start() after rollback error = nil, want error")
	}
}

func TestGateway_AssemblesRequestFromFragments(t *testing.T) {
	source := newFakeSource()
	mock := sink.NewMock()
	g := New(source, mock)
	if err := g.Start(Config{SessionID: "s"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer g.Stop()

	// Headers stage first, body stage second; order must not matter.
	source.onSendHeaders(&events.BeforeSendHeaders{
		RequestID: "1",
		URL:       "https://site.example/login",
		Method:    "POST",
		TimeStamp: time.Now(),
		Headers: []events.HeaderEntry{
			{Name: "Content-Type", Value: "application/x-www-form-urlencoded"},
		},
	})
	source.onBeforeRequest(&events.BeforeRequest{
		RequestID: "1",
		URL:       "https://site.example/login",
		Method:    "POST",
		TimeStamp: time.Now(),
		RequestBody: &events.RequestBody{
			Raw: []events.UploadData{{Bytes: []byte("a=b")}},
		},
	})

	saved := awaitRecords(t, mock, records.TableHTTPRequests, 1)
	rec := saved[0].Record.(*records.Request)
	if rec.PostBody == nil {
		t.Error("PostBody = nil, want parsed form")
	}
	if rec.CrawlID != "s" {
		t.Errorf("CrawlID = %v, want s", rec.CrawlID)
	}
}

func TestGateway_CapturesResponseBody(t *testing.T) {
	source := newFakeSource()
	source.bodies["2"] = []byte("hello")
	mock := sink.NewMock()
	g := New(source, mock)
	if err := g.Start(Config{SessionID: "s", CaptureAllContent: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer g.Stop()

	source.onBeforeRequest(&events.BeforeRequest{
		RequestID:    "2",
		URL:          "https://site.example/data",
		Method:       "GET",
		TimeStamp:    time.Now(),
		ResourceType: events.ResourceTypeXHR,
	})
	source.onCompleted(&events.Completed{
		RequestID:    "2",
		URL:          "https://site.example/data",
		Method:       "GET",
		TimeStamp:    time.Now(),
		ResourceType: events.ResourceTypeXHR,
		StatusCode:   200,
	})

	saved := awaitRecords(t, mock, records.TableHTTPResponses, 1)
	rec := saved[0].Record.(*records.Response)
	if rec.ContentHash == "" || rec.ContentHash == records.ContentHashError {
		t.Fatalf("ContentHash = %q, want a digest", rec.ContentHash)
	}
	if string(mock.Content[rec.ContentHash]) != "hello" {
		t.Errorf("stored content = %q, want %q", mock.Content[rec.ContentHash], "hello")
	}
	if _, ok := source.taps["2"]; !ok {
		t.Error("no listener was tapped for request 2")
	}
}

func TestGateway_PolicyNoneNeverTaps(t *testing.T) {
	source := newFakeSource()
	source.bodies["3"] = []byte("hello")
	mock := sink.NewMock()
	g := New(source, mock)
	if err := g.Start(Config{SessionID: "s"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer g.Stop()

	source.onBeforeRequest(&events.BeforeRequest{
		RequestID:    "3",
		Method:       "GET",
		TimeStamp:    time.Now(),
		ResourceType: events.ResourceTypeScript,
	})
	source.onCompleted(&events.Completed{
		RequestID:    "3",
		Method:       "GET",
		TimeStamp:    time.Now(),
		ResourceType: events.ResourceTypeScript,
		StatusCode:   200,
	})

	saved := awaitRecords(t, mock, records.TableHTTPResponses, 1)
	rec := saved[0].Record.(*records.Response)
	if rec.ContentHash != "" {
		t.Errorf("ContentHash = %q, want empty", rec.ContentHash)
	}
	if len(source.taps) != 0 {
		t.Errorf("taps = %v, want none", source.taps)
	}
}

func TestGateway_TapFailureYieldsSentinel(t *testing.T) {
	source := newFakeSource() // no body preloaded, Tap errors
	mock := sink.NewMock()
	g := New(source, mock)
	if err := g.Start(Config{SessionID: "s", CaptureAllContent: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer g.Stop()

	source.onBeforeRequest(&events.BeforeRequest{
		RequestID: "4",
		Method:    "GET",
		TimeStamp: time.Now(),
	})
	source.onCompleted(&events.Completed{
		RequestID:  "4",
		Method:     "GET",
		TimeStamp:  time.Now(),
		StatusCode: 200,
	})

	saved := awaitRecords(t, mock, records.TableHTTPResponses, 1)
	rec := saved[0].Record.(*records.Response)
	if rec.ContentHash != records.ContentHashError {
		t.Errorf("ContentHash = %q, want %q", rec.ContentHash, records.ContentHashError)
	}
}

func TestGateway_RecordsRedirect(t *testing.T) {
	source := newFakeSource()
	mock := sink.NewMock()
	g := New(source, mock)
	if err := g.Start(Config{SessionID: "s"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer g.Stop()

	source.onRedirect(&events.BeforeRedirect{
		RequestID:   "5",
		URL:         "https://site.example/old",
		RedirectURL: "https://site.example/new",
		TimeStamp:   time.Now(),
		StatusCode:  301,
	})

	saved := mock.RecordsFor(records.TableHTTPRedirects)
	if len(saved) != 1 {
		t.Fatalf("got %d redirect records, want 1", len(saved))
	}
	rec := saved[0].Record.(*records.Redirect)
	if rec.OldRequestID != "5" {
		t.Errorf("OldRequestID = %v, want 5", rec.OldRequestID)
	}
}

func TestGateway_SelfOriginatedTrafficDiscarded(t *testing.T) {
	source := newFakeSource()
	mock := sink.NewMock()
	g := New(source, mock)
	if err := g.Start(Config{SessionID: "s", SelfOrigin: "moz-extension://abc"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer g.Stop()

	source.onSendHeaders(&events.BeforeSendHeaders{
		RequestID: "6",
		Method:    "GET",
		TimeStamp: time.Now(),
		OriginURL: "moz-extension://abc/background.html",
	})
	source.onRedirect(&events.BeforeRedirect{
		RequestID: "7",
		TimeStamp: time.Now(),
		OriginURL: "moz-extension://abc/background.html",
	})

	time.Sleep(50 * time.Millisecond)
	if n := len(mock.Records); n != 0 {
		t.Errorf("got %d records from self-originated traffic, want 0", n)
	}
}
