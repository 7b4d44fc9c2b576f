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

// Package gateway is the boundary facing the host event source. It
// subscribes to the four lifecycle channels, discards self-originated
// traffic, and fans each raw event out to the correct buffer and
// assembler.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arkivar/httprecorder/pkg/assembler"
	"github.com/arkivar/httprecorder/pkg/capture"
	"github.com/arkivar/httprecorder/pkg/events"
	"github.com/arkivar/httprecorder/pkg/metrics"
	"github.com/arkivar/httprecorder/pkg/pending"
	"github.com/arkivar/httprecorder/pkg/postparse"
	"github.com/arkivar/httprecorder/pkg/sink"
	"github.com/arkivar/httprecorder/pkg/tabs"
	log "github.com/sirupsen/logrus"
)

// Config is the recognized start configuration.
type Config struct {
	// SessionID is the opaque correlation id stamped on every record.
	SessionID string
	// CaptureScripts taps response bodies of executable script content.
	CaptureScripts bool
	// CaptureAllContent taps every response body.
	CaptureAllContent bool
	// SelfOrigin marks traffic generated by the instrumentation itself;
	// events whose origin starts with it are discarded to avoid feedback
	// loops.
	SelfOrigin string
}

// Gateway owns the listener lifecycle. Start subscribes the four
// channels, Stop unsubscribes whatever was subscribed, idempotently.
type Gateway struct {
	source events.Source
	sink   sink.Sink
	tapper capture.Tapper
	tabs   tabs.Lookup
	parser postparse.Parser
	maxAge time.Duration

	asmOpts []assembler.Option

	mu         sync.Mutex
	started    bool
	subs       []events.Subscription
	registry   *pending.Registry
	asm        *assembler.Assembler
	policy     capture.Policy
	selfOrigin string
	ctx        context.Context
	cancel     context.CancelFunc
}

// Option configures a Gateway.
type Option interface {
	apply(*Gateway)
}

type funcOption struct {
	f func(*Gateway)
}

func (fo *funcOption) apply(g *Gateway) {
	fo.f(g)
}

func newFuncOption(f func(*Gateway)) *funcOption {
	return &funcOption{
		f: f,
	}
}

// New returns a gateway reading from source and writing to sk.
func New(source events.Source, sk sink.Sink, opts ...Option) *Gateway {
	g := &Gateway{
		source: source,
		sink:   sk,
		tabs:   tabs.NewCache(),
		parser: postparse.New(),
		maxAge: 5 * time.Minute,
	}
	if t, ok := source.(capture.Tapper); ok {
		g.tapper = t
	}
	for _, opt := range opts {
		opt.apply(g)
	}
	return g
}

func WithTabs(l tabs.Lookup) Option {
	return newFuncOption(func(g *Gateway) {
		g.tabs = l
	})
}

func WithParser(p postparse.Parser) Option {
	return newFuncOption(func(g *Gateway) {
		g.parser = p
	})
}

// WithTapper overrides the body stream tap, which otherwise comes from
// the source when it implements capture.Tapper.
func WithTapper(t capture.Tapper) Option {
	return newFuncOption(func(g *Gateway) {
		g.tapper = t
	})
}

// WithBufferMaxAge bounds how long an unconsumed pending buffer may live.
func WithBufferMaxAge(d time.Duration) Option {
	return newFuncOption(func(g *Gateway) {
		g.maxAge = d
	})
}

// WithAssemblerOptions forwards options to the assembler.
func WithAssemblerOptions(opts ...assembler.Option) Option {
	return newFuncOption(func(g *Gateway) {
		g.asmOpts = opts
	})
}

// Start subscribes the four lifecycle channels with a filter selecting
// all resource types and all URLs. A second Start without an intervening
// Stop is an error.
func (g *Gateway) Start(cfg Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return fmt.Errorf("gateway already started")
	}

	g.policy = capture.NewPolicy(cfg.CaptureScripts, cfg.CaptureAllContent)
	g.selfOrigin = cfg.SelfOrigin
	g.registry = pending.NewRegistry(g.maxAge)
	g.ctx, g.cancel = context.WithCancel(context.Background())

	opts := append([]assembler.Option{
		assembler.WithPolicy(g.policy),
		assembler.WithTabs(g.tabs),
		assembler.WithParser(g.parser),
	}, g.asmOpts...)
	g.asm = assembler.New(cfg.SessionID, g.sink, g.registry, opts...)

	log.Infof("Starting instrumentation, session %v, capture policy %v", cfg.SessionID, g.policy)

	all := events.AllTraffic()
	subscriptions := []func() (events.Subscription, error){
		func() (events.Subscription, error) { return g.source.OnBeforeRequest(all, g.onBeforeRequest) },
		func() (events.Subscription, error) { return g.source.OnBeforeSendHeaders(all, g.onBeforeSendHeaders) },
		func() (events.Subscription, error) { return g.source.OnBeforeRedirect(all, g.onBeforeRedirect) },
		func() (events.Subscription, error) { return g.source.OnCompleted(all, g.onCompleted) },
	}
	for _, subscribe := range subscriptions {
		sub, err := subscribe()
		if err != nil {
			g.stopLocked()
			return fmt.Errorf("failed subscribing event channel: %w", err)
		}
		g.subs = append(g.subs, sub)
	}

	g.started = true
	return nil
}

// Stop unsubscribes every channel Start subscribed. Calling it twice, or
// before Start, is a no-op.
func (g *Gateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func (g *Gateway) stopLocked() {
	for _, sub := range g.subs {
		sub.Unsubscribe()
	}
	g.subs = nil
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	if g.registry != nil {
		g.registry.Close()
	}
	if g.started {
		log.Infof("Stopped instrumentation")
	}
	g.started = false
}

// Subscriptions returns the number of active channel subscriptions.
func (g *Gateway) Subscriptions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

func (g *Gateway) selfOriginated(originURL string) bool {
	return g.selfOrigin != "" && strings.HasPrefix(originURL, g.selfOrigin)
}

func (g *Gateway) onBeforeRequest(ev *events.BeforeRequest) {
	if g.selfOriginated(ev.OriginURL) {
		return
	}
	metrics.EventsTotal.WithLabelValues("before_request").Inc()
	log.Tracef("Before request: %v %v %v", ev.RequestID, ev.Method, ev.URL)

	g.registry.Request(ev.RequestID).ResolveBody(ev)
	resp := g.registry.Response(ev.RequestID)
	resp.ResolveBody(ev)

	// The tap is a streaming listener, so it must be in place before the
	// response body starts flowing.
	if g.policy.ShouldCapture(ev.ResourceType) {
		l := capture.NewListener()
		if g.tapper == nil {
			l.Fail(fmt.Errorf("no body stream available"))
		} else if err := g.tapper.Tap(ev.RequestID, l); err != nil {
			l.Fail(err)
		}
		resp.AttachListener(l)
	}
}

func (g *Gateway) onBeforeSendHeaders(ev *events.BeforeSendHeaders) {
	if g.selfOriginated(ev.OriginURL) {
		return
	}
	metrics.EventsTotal.WithLabelValues("before_send_headers").Inc()
	log.Tracef("Before send headers: %v %v %v", ev.RequestID, ev.Method, ev.URL)

	g.registry.Request(ev.RequestID).ResolveHeaders(ev)
	go g.asm.AssembleRequest(g.ctx, ev)
}

func (g *Gateway) onBeforeRedirect(ev *events.BeforeRedirect) {
	if g.selfOriginated(ev.OriginURL) {
		return
	}
	metrics.EventsTotal.WithLabelValues("before_redirect").Inc()
	log.Tracef("Before redirect: %v %v -> %v", ev.RequestID, ev.URL, ev.RedirectURL)

	g.asm.RecordRedirect(ev)
}

func (g *Gateway) onCompleted(ev *events.Completed) {
	if g.selfOriginated(ev.OriginURL) {
		return
	}
	metrics.EventsTotal.WithLabelValues("completed").Inc()
	log.Tracef("Completed: %v %v %v %v", ev.RequestID, ev.Method, ev.URL, ev.StatusCode)

	g.registry.Response(ev.RequestID).ResolveCompleted(ev)
	go g.asm.AssembleResponse(g.ctx, ev)
}
