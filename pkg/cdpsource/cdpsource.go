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

// Package cdpsource adapts Chrome DevTools Protocol network events into
// the four lifecycle channels consumed by the gateway. It also taps
// response bodies for attached capture listeners and feeds the tab cache
// with top-level navigations.
package cdpsource

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkivar/httprecorder/pkg/capture"
	"github.com/arkivar/httprecorder/pkg/events"
	"github.com/arkivar/httprecorder/pkg/tabs"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"
)

// Source implements events.Source and capture.Tapper on top of a running
// browser's CDP connection.
type Source struct {
	browserWsEndpoint string
	tabCache          *tabs.Cache

	ctx         context.Context
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc

	mu                sync.Mutex
	nextToken         int
	beforeRequest     map[int]*handler[*events.BeforeRequest]
	beforeSendHeaders map[int]*handler[*events.BeforeSendHeaders]
	beforeRedirect    map[int]*handler[*events.BeforeRedirect]
	completed         map[int]*handler[*events.Completed]
	inflight          map[string]*transaction
	topFrame          string
}

type handler[T any] struct {
	filter events.Filter
	fn     func(T)
}

// transaction holds per-request state between CDP events.
type transaction struct {
	resourceType string
	method       string
	url          string
	statusCode   int
	statusText   string
	fromCache    bool
	headers      []events.HeaderEntry
	listener     *capture.Listener
}

// New returns a source reading from the browser at browserWsEndpoint,
// e.g. "ws://localhost:3000". Top-level navigations are published to
// tabCache.
func New(browserWsEndpoint string, tabCache *tabs.Cache) *Source {
	return &Source{
		browserWsEndpoint: browserWsEndpoint,
		tabCache:          tabCache,
		beforeRequest:     make(map[int]*handler[*events.BeforeRequest]),
		beforeSendHeaders: make(map[int]*handler[*events.BeforeSendHeaders]),
		beforeRedirect:    make(map[int]*handler[*events.BeforeRedirect]),
		completed:         make(map[int]*handler[*events.Completed]),
		inflight:          make(map[string]*transaction),
	}
}

// Connect attaches to the browser and starts delivering events.
func (s *Source) Connect(ctx context.Context) error {
	allocatorContext, allocCancel := chromedp.NewRemoteAllocator(ctx, s.browserWsEndpoint)
	browserCtx, ctxCancel := chromedp.NewContext(allocatorContext)
	s.ctx = browserCtx
	s.allocCancel = allocCancel
	s.ctxCancel = ctxCancel

	if err := chromedp.Run(browserCtx, enableActions()...); err != nil {
		s.Close()
		return fmt.Errorf("failed initializing browser: %w", err)
	}

	s.initListeners()

	log.Debugf("Connected to browser at %v", s.browserWsEndpoint)
	return nil
}

// Close tears down the browser connection.
func (s *Source) Close() {
	if s.ctxCancel != nil {
		s.ctxCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.remove)
}

func (s *Source) OnBeforeRequest(f events.Filter, h func(*events.BeforeRequest)) (events.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.nextToken
	s.nextToken++
	s.beforeRequest[token] = &handler[*events.BeforeRequest]{filter: f, fn: h}
	return &subscription{remove: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.beforeRequest, token)
	}}, nil
}

func (s *Source) OnBeforeSendHeaders(f events.Filter, h func(*events.BeforeSendHeaders)) (events.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.nextToken
	s.nextToken++
	s.beforeSendHeaders[token] = &handler[*events.BeforeSendHeaders]{filter: f, fn: h}
	return &subscription{remove: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.beforeSendHeaders, token)
	}}, nil
}

func (s *Source) OnBeforeRedirect(f events.Filter, h func(*events.BeforeRedirect)) (events.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.nextToken
	s.nextToken++
	s.beforeRedirect[token] = &handler[*events.BeforeRedirect]{filter: f, fn: h}
	return &subscription{remove: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.beforeRedirect, token)
	}}, nil
}

func (s *Source) OnCompleted(f events.Filter, h func(*events.Completed)) (events.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.nextToken
	s.nextToken++
	s.completed[token] = &handler[*events.Completed]{filter: f, fn: h}
	return &subscription{remove: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.completed, token)
	}}, nil
}

// Tap implements capture.Tapper. The body is fetched when the loading
// finishes; until then the listener stays open.
func (s *Source) Tap(requestID string, l *capture.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.inflight[requestID]
	if !ok {
		return fmt.Errorf("unknown request %v", requestID)
	}
	t.listener = l
	return nil
}

func matchesFilter(f events.Filter, url, resourceType string) bool {
	if len(f.URLs) > 0 && !containsPrefix(f.URLs, url) {
		return false
	}
	if len(f.Types) > 0 && !containsString(f.Types, resourceType) {
		return false
	}
	return true
}

func containsPrefix(prefixes []string, s string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Source) dispatchBeforeRequest(ev *events.BeforeRequest) {
	s.mu.Lock()
	handlers := make([]*handler[*events.BeforeRequest], 0, len(s.beforeRequest))
	for _, h := range s.beforeRequest {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		if matchesFilter(h.filter, ev.URL, ev.ResourceType) {
			h.fn(ev)
		}
	}
}

func (s *Source) dispatchBeforeSendHeaders(ev *events.BeforeSendHeaders) {
	s.mu.Lock()
	handlers := make([]*handler[*events.BeforeSendHeaders], 0, len(s.beforeSendHeaders))
	for _, h := range s.beforeSendHeaders {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		if matchesFilter(h.filter, ev.URL, ev.ResourceType) {
			h.fn(ev)
		}
	}
}

func (s *Source) dispatchBeforeRedirect(ev *events.BeforeRedirect) {
	s.mu.Lock()
	handlers := make([]*handler[*events.BeforeRedirect], 0, len(s.beforeRedirect))
	for _, h := range s.beforeRedirect {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		if matchesFilter(h.filter, ev.URL, "") {
			h.fn(ev)
		}
	}
}

func (s *Source) dispatchCompleted(ev *events.Completed) {
	s.mu.Lock()
	handlers := make([]*handler[*events.Completed], 0, len(s.completed))
	for _, h := range s.completed {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		if matchesFilter(h.filter, ev.URL, ev.ResourceType) {
			h.fn(ev)
		}
	}
}
