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

package cdpsource

import (
	"reflect"
	"testing"

	"github.com/arkivar/httprecorder/pkg/events"
	"github.com/chromedp/cdproto/network"
)

func TestMapResourceType(t *testing.T) {
	tests := []struct {
		name     string
		cdpType  string
		frameID  string
		topFrame string
		want     string
	}{
		{"document in top frame", "Document", "F1", "F1", events.ResourceTypeDocument},
		{"document in child frame", "Document", "F2", "F1", events.ResourceTypeSubFrame},
		{"document with unknown top frame", "Document", "F1", "", events.ResourceTypeDocument},
		{"script", "Script", "F1", "F1", events.ResourceTypeScript},
		{"xhr", "XHR", "F1", "F1", events.ResourceTypeXHR},
		{"fetch maps to xhr", "Fetch", "F1", "F1", events.ResourceTypeXHR},
		{"image", "Image", "F1", "F1", events.ResourceTypeImage},
		{"stylesheet", "Stylesheet", "F1", "F1", events.ResourceTypeStyle},
		{"websocket", "WebSocket", "F1", "F1", events.ResourceTypeWebSocket},
		{"unmapped falls back to other", "Ping", "F1", "F1", events.ResourceTypeOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapResourceType(tt.cdpType, tt.frameID, tt.topFrame); got != tt.want {
				t.Errorf("mapResourceType(%v) = %v, want %v", tt.cdpType, got, tt.want)
			}
		})
	}
}

func TestMatchesFilter(t *testing.T) {
	tests := []struct {
		name         string
		filter       events.Filter
		url          string
		resourceType string
		want         bool
	}{
		{"empty filter matches all", events.Filter{}, "https://a.example/x", events.ResourceTypeScript, true},
		{"url prefix match", events.Filter{URLs: []string{"https://a.example/"}}, "https://a.example/x", "", true},
		{"url prefix mismatch", events.Filter{URLs: []string{"https://b.example/"}}, "https://a.example/x", "", false},
		{"type match", events.Filter{Types: []string{events.ResourceTypeScript}}, "https://a.example/x", events.ResourceTypeScript, true},
		{"type mismatch", events.Filter{Types: []string{events.ResourceTypeImage}}, "https://a.example/x", events.ResourceTypeScript, false},
		{
			"both must match",
			events.Filter{URLs: []string{"https://a.example/"}, Types: []string{events.ResourceTypeImage}},
			"https://a.example/x",
			events.ResourceTypeScript,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesFilter(tt.filter, tt.url, tt.resourceType); got != tt.want {
				t.Errorf("matchesFilter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	s := New("ws://localhost:3000", nil)

	var delivered int
	sub, err := s.OnBeforeRequest(events.AllTraffic(), func(*events.BeforeRequest) {
		delivered++
	})
	if err != nil {
		t.Fatalf("OnBeforeRequest() error = %v", err)
	}

	s.dispatchBeforeRequest(&events.BeforeRequest{RequestID: "1"})
	if delivered != 1 {
		t.Errorf("delivered = %v, want 1", delivered)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()

	s.dispatchBeforeRequest(&events.BeforeRequest{RequestID: "2"})
	if delivered != 1 {
		t.Errorf("delivered after unsubscribe = %v, want 1", delivered)
	}
}

func TestDispatchHonorsFilter(t *testing.T) {
	s := New("ws://localhost:3000", nil)

	var got []string
	_, err := s.OnCompleted(events.Filter{Types: []string{events.ResourceTypeScript}}, func(ev *events.Completed) {
		got = append(got, ev.RequestID)
	})
	if err != nil {
		t.Fatalf("OnCompleted() error = %v", err)
	}

	s.dispatchCompleted(&events.Completed{RequestID: "1", ResourceType: events.ResourceTypeScript})
	s.dispatchCompleted(&events.Completed{RequestID: "2", ResourceType: events.ResourceTypeImage})

	if want := []string{"1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("delivered = %v, want %v", got, want)
	}
}

func TestTapUnknownRequest(t *testing.T) {
	s := New("ws://localhost:3000", nil)
	if err := s.Tap("nope", nil); err == nil {
		t.Error("Tap() error = nil, want error")
	}
}

func TestHeaderEntries(t *testing.T) {
	entries := headerEntries(network.Headers{
		"Content-Type":   "text/html",
		"Content-Length": 42,
	})
	want := []events.HeaderEntry{
		{Name: "Content-Length", Value: "42"},
		{Name: "Content-Type", Value: "text/html"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("headerEntries() = %v, want %v", entries, want)
	}
}
