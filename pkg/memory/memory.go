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

// Package memory implements the process-wide evictor registry and pressure
// protocol: evictors register under a category, publish tracked byte
// counts, and receive EvictionRequests when the tracked total crosses a
// configured budget.
package memory

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Pressure is the coarse memory-pressure signal derived from tracked bytes
// vs. budget.
type Pressure int

const (
	Low Pressure = iota
	Medium
	High
	Critical
)

func (p Pressure) String() string {
	switch p {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// EvictionRequest is issued by the Manager to an Evictor under pressure.
type EvictionRequest struct {
	Pressure    Pressure
	TargetBytes int64
}

// EvictionResult reports what an Evictor actually freed.
type EvictionResult struct {
	BeforeBytes int64
	AfterBytes  int64
}

// Evictor is the narrow capability set an owner implements to participate
// in memory management: {name, category, priority, evict, flush_to_disk}. Composition
// over inheritance: there is no base "cache" type.
type Evictor interface {
	Name() string
	Category() string
	// Priority orders evictors within a pressure pass; lower runs first.
	Priority() int
	Evict(req EvictionRequest) EvictionResult
	FlushToDisk()
}

// Tracker lets an evictor publish its own current tracked byte size without
// the manager reaching into its internals.
type Tracker struct {
	bytes int64
	gauge prometheus.Gauge
}

// Set updates the tracked byte count.
func (t *Tracker) Set(n int64) {
	if t == nil {
		return
	}
	t.bytes = n
	if t.gauge != nil {
		t.gauge.Set(float64(n))
	}
}

// Bytes returns the last published value.
func (t *Tracker) Bytes() int64 {
	if t == nil {
		return 0
	}
	return t.bytes
}

// Manager is the process-wide registry. Construct one per process (or one
// per test, per the testability harness seam).
type Manager struct {
	mu          sync.Mutex
	budgetBytes int64
	evictors    map[string]Evictor
	trackers    map[string]*Tracker

	pressureGauge prometheus.Gauge
}

// NewManager creates a Manager with the given total byte budget.
func NewManager(budgetBytes int64) *Manager {
	return &Manager{
		budgetBytes: budgetBytes,
		evictors:    make(map[string]Evictor),
		trackers:    make(map[string]*Tracker),
		pressureGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nova_memory_pressure_level",
			Help: "Current memory pressure level (0=low,1=medium,2=high,3=critical).",
		}),
	}
}

// Collectors exposes the manager's Prometheus collectors for registration
// by the caller (the manager does not register itself globally).
func (m *Manager) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.pressureGauge}
}

// RegisterEvictor adds an evictor under its category and returns a Tracker
// the owner uses to publish tracked bytes. Registering the same category
// twice replaces the previous registration.
func (m *Manager) RegisterEvictor(e Evictor) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &Tracker{
		gauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "nova_cache_tracked_bytes",
			Help:        "Bytes tracked by a registered evictor.",
			ConstLabels: prometheus.Labels{"category": e.Category()},
		}),
	}
	m.evictors[e.Category()] = e
	m.trackers[e.Category()] = t
	return t
}

// TotalBytes sums all registered trackers.
func (m *Manager) TotalBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, t := range m.trackers {
		total += t.Bytes()
	}
	return total
}

// ComputePressure derives a Pressure level from used/budget. Thresholds:
// Low < 0.5, Medium < 0.75, High < 0.9, else Critical.
func (m *Manager) ComputePressure() Pressure {
	if m.budgetBytes <= 0 {
		return Low
	}
	used := m.TotalBytes()
	ratio := float64(used) / float64(m.budgetBytes)
	switch {
	case ratio < 0.5:
		return Low
	case ratio < 0.75:
		return Medium
	case ratio < 0.9:
		return High
	default:
		return Critical
	}
}

// RunEviction issues EvictionRequests to every registered evictor, in
// Priority order, targeting enough bytes to bring the tracked total back
// under budget. It never reenters itself from an evictor callback (the
// lock-ordering contract is evictor -> manager: this method does not hold
// m.mu while calling into evictors).
func (m *Manager) RunEviction() map[string]EvictionResult {
	pressure := m.ComputePressure()
	m.pressureGauge.Set(float64(pressure))

	m.mu.Lock()
	evictors := make([]Evictor, 0, len(m.evictors))
	for _, e := range m.evictors {
		evictors = append(evictors, e)
	}
	budget := m.budgetBytes
	m.mu.Unlock()

	sort.Slice(evictors, func(i, j int) bool { return evictors[i].Priority() < evictors[j].Priority() })

	results := make(map[string]EvictionResult, len(evictors))
	if pressure == Low {
		return results
	}

	used := m.TotalBytes()
	overBudget := used - budget
	if overBudget <= 0 {
		return results
	}

	for _, e := range evictors {
		if overBudget <= 0 {
			break
		}
		t := m.trackerFor(e.Category())
		before := t.Bytes()
		target := before - overBudget
		if target < 0 {
			target = 0
		}
		res := e.Evict(EvictionRequest{Pressure: pressure, TargetBytes: target})
		results[e.Category()] = res
		t.Set(res.AfterBytes)
		overBudget -= before - res.AfterBytes
	}

	return results
}

func (m *Manager) trackerFor(category string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackers[category]
}
