// Copyright 2025 Nova Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package querycache implements the two-tier (hot LRU + warm clock) query
// cache: in-memory tiers with optional disk
// spill-over, integrated with the process-wide memory manager as an
// Evictor.
package querycache

import (
	"sync"

	"github.com/novaide/nova/pkg/memory"
)

// DiskBacking is the narrow persistence seam a Cache spills to. Callers
// typically wire pkg/artifactcache's envelope codec behind this interface.
type DiskBacking interface {
	Load(key string) ([]byte, bool)
	Store(key string, value []byte) error
}

// Cache is a named two-tier query cache.
type Cache struct {
	name string
	disk DiskBacking

	mu   sync.Mutex
	hot  *lruTier
	warm *clockTier

	tracker          *memory.Tracker
	priorityOverride int
}

// New constructs a Cache with no disk backing.
func New(name string) *Cache {
	return &Cache{name: name, hot: newLRUTier(), warm: newClockTier()}
}

// NewWithDisk constructs a Cache that spills to and loads from disk.
func NewWithDisk(name string, disk DiskBacking) *Cache {
	c := New(name)
	c.disk = disk
	return c
}

// Register wires the cache into a memory.Manager as an evictor and stores
// the returned tracker so TotalBytes changes are published automatically.
func (c *Cache) Register(mgr *memory.Manager, priority int) {
	c.priorityOverride = priority
	c.tracker = mgr.RegisterEvictor(c)
}

// Get looks up key: hot, then warm (promoting into hot on hit), then disk
// (inserting into both tiers on hit). Returns (nil, false) on a clean miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.hot.get(key); ok {
		return v, true
	}
	if v, ok := c.warm.get(key); ok {
		c.hot.insert(key, v)
		c.publish()
		return v, true
	}
	if c.disk != nil {
		if v, ok := c.disk.Load(key); ok {
			c.hot.insert(key, v)
			c.warm.insert(key, v)
			c.publish()
			return v, true
		}
	}
	return nil, false
}

// Insert places value into the hot tier.
func (c *Cache) Insert(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hot.insert(key, value)
	c.publish()
}

// TotalBytes returns hot+warm tracked bytes.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hot.bytes + c.warm.bytes
}

// FlushToDisk persists all current warm entries best-effort. It never
// mutates in-memory state visibly.
func (c *Cache) FlushToDisk() {
	if c.disk == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warm.flushAll(func(key string, value []byte) {
		_ = c.disk.Store(key, value)
	})
}

func (c *Cache) publish() {
	if c.tracker != nil {
		c.tracker.Set(c.hot.bytes + c.warm.bytes)
	}
}

// --- memory.Evictor ---

func (c *Cache) Name() string     { return c.name }
func (c *Cache) Category() string { return c.name }
func (c *Cache) Priority() int    { return c.priorityOverride }

// Evict implements memory.Evictor. target_bytes == 0 clears both tiers
// (persisting warm to disk first); otherwise the budget is split ~20% hot,
// ~80% warm, and warm is evicted to target before hot.
func (c *Cache) Evict(req memory.EvictionRequest) memory.EvictionResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.hot.bytes + c.warm.bytes

	if req.TargetBytes == 0 {
		c.warm.flushAll(func(key string, value []byte) {
			if c.disk != nil {
				_ = c.disk.Store(key, value)
			}
		})
		c.hot.clear()
		c.warm.clear()
		c.publish()
		return memory.EvictionResult{BeforeBytes: before, AfterBytes: 0}
	}

	hotTarget := req.TargetBytes / 5
	warmTarget := req.TargetBytes - hotTarget

	// A dropped warm entry spills to disk whenever a backing exists, so a
	// key pushed out of memory stays reachable through Get's disk path.
	spill := func(key string, value []byte) {
		if c.disk != nil {
			_ = c.disk.Store(key, value)
		}
	}

	c.warm.evictTo(warmTarget, req.Pressure, spill)

	c.hot.evictTo(hotTarget, req.Pressure, func(key string, value []byte) {
		c.warm.insert(key, value)
	})

	// Demotion may have pushed warm back over its share; enforce the
	// budget again, without second chances this time so the pass always
	// terminates at the target.
	c.warm.evictTo(warmTarget, memory.Critical, spill)

	after := c.hot.bytes + c.warm.bytes
	c.publish()
	return memory.EvictionResult{BeforeBytes: before, AfterBytes: after}
}
