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

// Package assembler merges the fragments accumulated by the pending
// buffers into canonical records and hands them to the sink. Every
// failure here degrades to "emit with missing or sentinel fields and
// log"; nothing suppresses the one record a transaction is owed.
package assembler

import (
	"time"

	"github.com/arkivar/httprecorder/pkg/capture"
	"github.com/arkivar/httprecorder/pkg/events"
	"github.com/arkivar/httprecorder/pkg/pending"
	"github.com/arkivar/httprecorder/pkg/postparse"
	"github.com/arkivar/httprecorder/pkg/sink"
	"github.com/arkivar/httprecorder/pkg/tabs"
)

// Assembler builds finished records for one instrumentation session.
type Assembler struct {
	crawlID     string
	sink        sink.Sink
	registry    *pending.Registry
	policy      capture.Policy
	tabs        tabs.Lookup
	parser      postparse.Parser
	bodyWait    time.Duration
	captureWait time.Duration
}

// Option configures an Assembler.
type Option interface {
	apply(*Assembler)
}

type funcOption struct {
	f func(*Assembler)
}

func (fo *funcOption) apply(a *Assembler) {
	fo.f(a)
}

func newFuncOption(f func(*Assembler)) *funcOption {
	return &funcOption{
		f: f,
	}
}

// New returns an assembler stamping crawlID on every record.
func New(crawlID string, sk sink.Sink, registry *pending.Registry, opts ...Option) *Assembler {
	a := &Assembler{
		crawlID:     crawlID,
		sink:        sk,
		registry:    registry,
		policy:      capture.PolicyNone,
		tabs:        tabs.NewCache(),
		parser:      postparse.New(),
		bodyWait:    pending.DefaultWaitTimeout,
		captureWait: 30 * time.Second,
	}
	for _, opt := range opts {
		opt.apply(a)
	}
	return a
}

func WithPolicy(p capture.Policy) Option {
	return newFuncOption(func(a *Assembler) {
		a.policy = p
	})
}

func WithTabs(l tabs.Lookup) Option {
	return newFuncOption(func(a *Assembler) {
		a.tabs = l
	})
}

func WithParser(p postparse.Parser) Option {
	return newFuncOption(func(a *Assembler) {
		a.parser = p
	})
}

// WithBodyWaitTimeout overrides the budget for waiting on a POST body
// fragment.
func WithBodyWaitTimeout(d time.Duration) Option {
	return newFuncOption(func(a *Assembler) {
		a.bodyWait = d
	})
}

// WithCaptureWaitTimeout overrides the budget for awaiting body capture.
func WithCaptureWaitTimeout(d time.Duration) Option {
	return newFuncOption(func(a *Assembler) {
		a.captureWait = d
	})
}

func headerPairs(headers []events.HeaderEntry) [][2]string {
	pairs := make([][2]string, len(headers))
	for i, h := range headers {
		pairs[i] = [2]string{h.Name, h.Value}
	}
	return pairs
}
