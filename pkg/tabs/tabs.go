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

// Package tabs resolves a browsing context id to the top-level document
// URL currently loaded in that context.
package tabs

import (
	"context"
	"errors"
	"sync"
)

var ErrUnknownTab = errors.New("unknown tab")

// Lookup answers "what is the top-level document URL of this context".
// Implementations may be remote and slow; callers pass a context and must
// not block other in-flight work on the answer.
type Lookup interface {
	TopLevelURL(ctx context.Context, tabID string) (string, error)
}

// Cache is a Lookup fed by the event source as it observes top-level
// navigations.
type Cache struct {
	mu   sync.RWMutex
	urls map[string]string
}

func NewCache() *Cache {
	return &Cache{
		urls: make(map[string]string),
	}
}

// Set records the top-level document URL for a context.
func (c *Cache) Set(tabID, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[tabID] = url
}

// Remove forgets a context, typically when its tab closes.
func (c *Cache) Remove(tabID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.urls, tabID)
}

func (c *Cache) TopLevelURL(_ context.Context, tabID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	url, ok := c.urls[tabID]
	if !ok {
		return "", ErrUnknownTab
	}
	return url, nil
}
