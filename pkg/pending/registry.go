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

package pending

import (
	"sync"
	"time"

	"github.com/arkivar/httprecorder/pkg/metrics"
	log "github.com/sirupsen/logrus"
)

// Registry owns the per-transaction buffers, keyed by transaction id.
// Buffers are created lazily on first reference and evicted either
// explicitly after assembly or by the janitor once they exceed maxAge,
// so event loss cannot grow the maps without bound.
type Registry struct {
	mu        sync.Mutex
	requests  map[string]*Request
	responses map[string]*Response
	maxAge    time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry returns a registry whose janitor evicts buffers older than
// maxAge. A maxAge of zero disables the janitor.
func NewRegistry(maxAge time.Duration) *Registry {
	r := &Registry{
		requests:  make(map[string]*Request),
		responses: make(map[string]*Response),
		maxAge:    maxAge,
		done:      make(chan struct{}),
	}
	if maxAge > 0 {
		go r.janitor()
	}
	return r
}

// Request returns the pending request buffer for id, creating it if this
// is the first reference.
func (r *Registry) Request(id string) *Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.requests[id]
	if !ok {
		p = newRequest()
		r.requests[id] = p
		r.updateGauge()
	}
	return p
}

// Response returns the pending response buffer for id, creating it if
// this is the first reference.
func (r *Registry) Response(id string) *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.responses[id]
	if !ok {
		p = newResponse()
		r.responses[id] = p
		r.updateGauge()
	}
	return p
}

// EvictRequest removes the request buffer once the assembler has
// consumed it.
func (r *Registry) EvictRequest(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, id)
	r.updateGauge()
}

// EvictResponse removes the response buffer once the assembler has
// consumed it.
func (r *Registry) EvictResponse(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.responses, id)
	r.updateGauge()
}

// Len returns the number of pending buffers across both maps.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests) + len(r.responses)
}

// Close stops the janitor. Safe to call more than once.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

func (r *Registry) janitor() {
	ticker := time.NewTicker(r.maxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep(time.Now().Add(-r.maxAge))
		}
	}
}

func (r *Registry) sweep(deadline time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, p := range r.requests {
		if p.created.Before(deadline) {
			delete(r.requests, id)
			evicted++
		}
	}
	for id, p := range r.responses {
		if p.created.Before(deadline) {
			delete(r.responses, id)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debugf("Evicted %d stale pending buffers", evicted)
		r.updateGauge()
	}
}

// updateGauge is called with r.mu held.
func (r *Registry) updateGauge() {
	metrics.PendingTransactions.Set(float64(len(r.requests) + len(r.responses)))
}
