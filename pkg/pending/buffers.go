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

// Package pending holds the per-transaction correlation buffers. Each
// fragment slot is a single-assignment future: the first resolve stores
// the value and releases every waiter, later resolves are ignored.
// Fragments for one transaction can arrive in any order, so consumers
// wait with a timeout instead of assuming an order.
package pending

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arkivar/httprecorder/pkg/capture"
	"github.com/arkivar/httprecorder/pkg/events"
	log "github.com/sirupsen/logrus"
)

var (
	ErrTimeout   = errors.New("fragment wait timeout")
	ErrCancelled = errors.New("fragment wait cancelled")
)

// DefaultWaitTimeout is the budget for waiting on a partner fragment.
const DefaultWaitTimeout = 1000 * time.Millisecond

// Request accumulates the body-stage and headers-stage fragments of one
// transaction until the request assembler has consumed them.
type Request struct {
	mu          sync.Mutex
	created     time.Time
	bodyCh      chan struct{}
	body        *events.BeforeRequest
	bodyDone    bool
	headersCh   chan struct{}
	headers     *events.BeforeSendHeaders
	headersDone bool
}

func newRequest() *Request {
	return &Request{
		created:   time.Now(),
		bodyCh:    make(chan struct{}),
		headersCh: make(chan struct{}),
	}
}

// ResolveBody stores the body-stage fragment and releases waiters.
// Duplicate resolution is ignored; first write wins.
func (p *Request) ResolveBody(ev *events.BeforeRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bodyDone {
		log.Debugf("Duplicate body fragment for request %v ignored", ev.RequestID)
		return
	}
	p.body = ev
	p.bodyDone = true
	close(p.bodyCh)
}

// ResolveHeaders stores the headers-stage fragment and releases waiters.
func (p *Request) ResolveHeaders(ev *events.BeforeSendHeaders) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.headersDone {
		log.Debugf("Duplicate headers fragment for request %v ignored", ev.RequestID)
		return
	}
	p.headers = ev
	p.headersDone = true
	close(p.headersCh)
}

// Body waits up to timeout for the body-stage fragment. It returns
// immediately when the fragment is already resolved. The wait suspends
// only the calling goroutine, never event delivery.
func (p *Request) Body(ctx context.Context, timeout time.Duration) (*events.BeforeRequest, error) {
	if err := wait(ctx, p.bodyCh, timeout); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body, nil
}

// Headers waits up to timeout for the headers-stage fragment.
func (p *Request) Headers(ctx context.Context, timeout time.Duration) (*events.BeforeSendHeaders, error) {
	if err := wait(ctx, p.headersCh, timeout); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headers, nil
}

// Response accumulates the body-stage and completion-stage fragments of
// one transaction, plus the optional body capture listener attached at
// body-stage time.
type Response struct {
	mu            sync.Mutex
	created       time.Time
	bodyCh        chan struct{}
	body          *events.BeforeRequest
	bodyDone      bool
	completedCh   chan struct{}
	completed     *events.Completed
	completedDone bool
	listener      *capture.Listener
}

func newResponse() *Response {
	return &Response{
		created:     time.Now(),
		bodyCh:      make(chan struct{}),
		completedCh: make(chan struct{}),
	}
}

// ResolveBody stores the body-stage fragment. Both buffers independently
// want this fragment, so the gateway resolves it on each.
func (p *Response) ResolveBody(ev *events.BeforeRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bodyDone {
		log.Debugf("Duplicate body fragment for response %v ignored", ev.RequestID)
		return
	}
	p.body = ev
	p.bodyDone = true
	close(p.bodyCh)
}

// ResolveCompleted stores the completion-stage fragment.
func (p *Response) ResolveCompleted(ev *events.Completed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completedDone {
		log.Debugf("Duplicate completion fragment for response %v ignored", ev.RequestID)
		return
	}
	p.completed = ev
	p.completedDone = true
	close(p.completedCh)
}

// Completed waits up to timeout for the completion-stage fragment.
func (p *Response) Completed(ctx context.Context, timeout time.Duration) (*events.Completed, error) {
	if err := wait(ctx, p.completedCh, timeout); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed, nil
}

// AttachListener records the capture listener tapping this transaction's
// body stream. A listener can be attached at most once.
func (p *Response) AttachListener(l *capture.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		return
	}
	p.listener = l
}

// Listener returns the attached capture listener, or nil if the capture
// policy never attached one.
func (p *Response) Listener() *capture.Listener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener
}

func wait(ctx context.Context, ch <-chan struct{}, timeout time.Duration) error {
	select {
	case <-ch:
		return nil
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return nil
	case <-t.C:
		return ErrTimeout
	case <-ctx.Done():
		return ErrCancelled
	}
}
