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

// Package capture taps a transaction's response body stream and exposes
// the assembled bytes and their content hash. The tap must be attached
// before the stream starts flowing; it cannot fetch a body after the fact.
package capture

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
)

var ErrAborted = errors.New("body stream aborted")

// Tapper connects a listener to the host's response body stream for one
// transaction. The tap must be in place before the stream starts flowing.
type Tapper interface {
	Tap(requestID string, l *Listener) error
}

// Listener accumulates one transaction's body stream. Bytes and Hash may
// be requested independently and multiple times; both block until the
// stream has completed or failed.
type Listener struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	done   chan struct{}
	closed bool
	err    error
	data   []byte
	hash   string
}

func NewListener() *Listener {
	return &Listener{
		done: make(chan struct{}),
	}
}

// Append adds one chunk of the body stream. Chunks after completion are
// dropped.
func (l *Listener) Append(p []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.buf.Write(p)
}

// Complete marks the stream as fully received and releases waiters.
func (l *Listener) Complete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.data = l.buf.Bytes()
	close(l.done)
}

// Fail marks the stream as broken. Waiters get err instead of bytes.
func (l *Listener) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if err == nil {
		err = ErrAborted
	}
	l.err = err
	close(l.done)
}

// Bytes returns the assembled body once the stream has completed.
func (l *Listener) Bytes(ctx context.Context) ([]byte, error) {
	select {
	case <-l.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.data, nil
}

// Hash returns the hex SHA-256 of the assembled body. The digest is
// computed once and memoized.
func (l *Listener) Hash(ctx context.Context) (string, error) {
	select {
	case <-l.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	if l.hash == "" {
		sum := sha256.Sum256(l.data)
		l.hash = hex.EncodeToString(sum[:])
	}
	return l.hash, nil
}
