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

package querycache

import (
	"container/list"

	"github.com/novaide/nova/pkg/memory"
)

type lruEntry struct {
	key   string
	value []byte
}

// lruTier is the hot, recency-ordered tier. Values are treated as
// shared-immutable: callers must not mutate a returned slice.
type lruTier struct {
	order *list.List // front = most recently used
	index map[string]*list.Element
	bytes int64
}

func newLRUTier() *lruTier {
	return &lruTier{order: list.New(), index: make(map[string]*list.Element)}
}

func (t *lruTier) get(key string) ([]byte, bool) {
	el, ok := t.index[key]
	if !ok {
		return nil, false
	}
	t.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (t *lruTier) insert(key string, value []byte) {
	if el, ok := t.index[key]; ok {
		t.bytes -= int64(len(el.Value.(*lruEntry).value))
		el.Value.(*lruEntry).value = value
		t.bytes += int64(len(value))
		t.order.MoveToFront(el)
		return
	}
	el := t.order.PushFront(&lruEntry{key: key, value: value})
	t.index[key] = el
	t.bytes += int64(len(value))
}

func (t *lruTier) remove(key string) ([]byte, bool) {
	el, ok := t.index[key]
	if !ok {
		return nil, false
	}
	t.order.Remove(el)
	delete(t.index, key)
	v := el.Value.(*lruEntry).value
	t.bytes -= int64(len(v))
	return v, true
}

func (t *lruTier) clear() {
	t.order.Init()
	t.index = make(map[string]*list.Element)
	t.bytes = 0
}

// evictTo evicts least-recently-used entries until tracked bytes are at or
// below targetBytes. Under Low/Medium pressure, evicted entries are handed
// to demote (typically inserted into the warm tier); under High/Critical
// they are dropped without being persisted.
func (t *lruTier) evictTo(targetBytes int64, pressure memory.Pressure, demote func(key string, value []byte)) {
	for t.bytes > targetBytes {
		back := t.order.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*lruEntry)
		t.order.Remove(back)
		delete(t.index, entry.key)
		t.bytes -= int64(len(entry.value))

		if pressure == memory.Low || pressure == memory.Medium {
			if demote != nil {
				demote(entry.key, entry.value)
			}
		}
		// High/Critical: entry is simply dropped (caller may have already
		// persisted warm entries via FlushToDisk before calling evict).
	}
}

type clockEntry struct {
	value      []byte
	referenced bool
}

// clockTier is the warm, second-chance tier.
type clockTier struct {
	order []string // clock hand order; index 0 is the hand's current position candidate
	index map[string]*clockEntry
	bytes int64
}

func newClockTier() *clockTier {
	return &clockTier{index: make(map[string]*clockEntry)}
}

func (t *clockTier) get(key string) ([]byte, bool) {
	e, ok := t.index[key]
	if !ok {
		return nil, false
	}
	e.referenced = true
	return e.value, true
}

func (t *clockTier) insert(key string, value []byte) {
	if e, ok := t.index[key]; ok {
		t.bytes -= int64(len(e.value))
		e.value = value
		e.referenced = true
		t.bytes += int64(len(value))
		return
	}
	t.index[key] = &clockEntry{value: value, referenced: false}
	t.order = append(t.order, key)
	t.bytes += int64(len(value))
}

func (t *clockTier) remove(key string) ([]byte, bool) {
	e, ok := t.index[key]
	if !ok {
		return nil, false
	}
	delete(t.index, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.bytes -= int64(len(e.value))
	return e.value, true
}

func (t *clockTier) clear() {
	t.order = nil
	t.index = make(map[string]*clockEntry)
	t.bytes = 0
}

func (t *clockTier) flushAll(persist func(key string, value []byte)) {
	for _, key := range t.order {
		e := t.index[key]
		if e != nil && persist != nil {
			persist(key, e.value)
		}
	}
}

// evictTo runs the clock algorithm: scan at most 2*len(order) positions
// (floor 8), giving a referenced entry a second chance only under
// Low/Medium pressure; otherwise it is dropped (or persisted-then-dropped
// via drop) on first encounter.
func (t *clockTier) evictTo(targetBytes int64, pressure memory.Pressure, drop func(key string, value []byte)) {
	maxScans := len(t.order) * 2
	if maxScans < 8 {
		maxScans = 8
	}

	scans := 0
	for t.bytes > targetBytes && len(t.order) > 0 && scans < maxScans {
		scans++
		key := t.order[0]
		e, ok := t.index[key]
		if !ok {
			t.order = t.order[1:]
			continue
		}
		if e.referenced && (pressure == memory.Low || pressure == memory.Medium) {
			e.referenced = false
			t.order = append(t.order[1:], key)
			continue
		}
		t.order = t.order[1:]
		delete(t.index, key)
		t.bytes -= int64(len(e.value))
		if drop != nil {
			drop(key, e.value)
		}
	}
}
