/*
Copyright 2025 The Subnetguard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cache provides a time-bounded cache of subnet usage observations,
// collapsing repeated lookups for the same subnet within a freshness window.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ahoma/subnetguard/pkg/apis"
	"github.com/ahoma/subnetguard/pkg/metrics"
)

// DefaultFreshnessWindow is how long a subnet observation may be served
// before it must be refreshed.
const DefaultFreshnessWindow = 15 * time.Second

// SubnetDescriber fetches current usage figures for one subnet.
type SubnetDescriber interface {
	Describe(ctx context.Context, subnetID string) (apis.SubnetUsage, error)
}

type entry struct {
	usage     apis.SubnetUsage
	expiresAt time.Time
}

// IPAvailabilityCache caches subnet usage keyed by subnet id. An entry is
// never served past its expiry: a stale or missing entry forces a synchronous
// refresh through the describer, and a failed refresh installs nothing, so a
// provider outage is visible rather than masked by stale data.
//
// Memory is bounded by the number of distinct subnets observed. The cache is
// scoped to one process; replicas hold independent state whose divergence is
// bounded by the freshness window.
type IPAvailabilityCache struct {
	describer SubnetDescriber
	ttl       time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	refresh map[string]*sync.Mutex
}

// New creates a cache around the given describer. A non-positive ttl falls
// back to DefaultFreshnessWindow.
func New(describer SubnetDescriber, ttl time.Duration) *IPAvailabilityCache {
	if ttl <= 0 {
		ttl = DefaultFreshnessWindow
	}
	return &IPAvailabilityCache{
		describer: describer,
		ttl:       ttl,
		now:       time.Now,
		entries:   make(map[string]entry),
		refresh:   make(map[string]*sync.Mutex),
	}
}

// SetClock replaces the cache's time source. Tests use this to drive expiry
// deterministically.
func (c *IPAvailabilityCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the usage for subnetID, refreshing through the describer when
// no fresh entry exists. Concurrent misses for the same subnet are collapsed
// into a single describer call; misses for different subnets proceed in
// parallel.
func (c *IPAvailabilityCache) Get(ctx context.Context, subnetID string) (apis.SubnetUsage, error) {
	if usage, ok := c.lookup(subnetID); ok {
		metrics.RecordCacheLookup(metrics.CacheHit)
		return usage, nil
	}

	lock := c.refreshLock(subnetID)
	lock.Lock()
	defer lock.Unlock()

	// Another request may have refreshed this key while we waited.
	if usage, ok := c.lookup(subnetID); ok {
		metrics.RecordCacheLookup(metrics.CacheHit)
		return usage, nil
	}

	metrics.RecordCacheLookup(metrics.CacheMiss)

	usage, err := c.describer.Describe(ctx, subnetID)
	if err != nil {
		return apis.SubnetUsage{}, err
	}

	c.mu.Lock()
	c.entries[subnetID] = entry{usage: usage, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return usage, nil
}

// Invalidate drops the entry for subnetID, forcing the next Get to refresh.
func (c *IPAvailabilityCache) Invalidate(subnetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, subnetID)
}

// Len returns the number of entries currently held, expired or not.
func (c *IPAvailabilityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// lookup returns the cached usage for subnetID iff its entry has not expired.
func (c *IPAvailabilityCache) lookup(subnetID string) (apis.SubnetUsage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[subnetID]
	if !ok || !c.now().Before(e.expiresAt) {
		return apis.SubnetUsage{}, false
	}
	return e.usage, true
}

// refreshLock returns the per-key mutex guarding refreshes of subnetID.
func (c *IPAvailabilityCache) refreshLock(subnetID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.refresh[subnetID]
	if !ok {
		lock = &sync.Mutex{}
		c.refresh[subnetID] = lock
	}
	return lock
}
