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

package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEvictor frees exactly what it is asked to, down to a floor.
type fakeEvictor struct {
	category string
	priority int
	tracker  *Tracker
	requests []EvictionRequest
	flushed  bool
}

func (e *fakeEvictor) Name() string     { return e.category }
func (e *fakeEvictor) Category() string { return e.category }
func (e *fakeEvictor) Priority() int    { return e.priority }
func (e *fakeEvictor) FlushToDisk()     { e.flushed = true }

func (e *fakeEvictor) Evict(req EvictionRequest) EvictionResult {
	e.requests = append(e.requests, req)
	before := e.tracker.Bytes()
	after := req.TargetBytes
	if after > before {
		after = before
	}
	e.tracker.Set(after)
	return EvictionResult{BeforeBytes: before, AfterBytes: after}
}

func register(m *Manager, category string, priority int, bytes int64) *fakeEvictor {
	e := &fakeEvictor{category: category, priority: priority}
	e.tracker = m.RegisterEvictor(e)
	e.tracker.Set(bytes)
	return e
}

func TestPressureThresholds(t *testing.T) {
	m := NewManager(1000)
	e := register(m, "QueryCache", 0, 0)

	cases := []struct {
		bytes int64
		want  Pressure
	}{
		{0, Low},
		{499, Low},
		{500, Medium},
		{749, Medium},
		{750, High},
		{899, High},
		{900, Critical},
		{2000, Critical},
	}
	for _, c := range cases {
		e.tracker.Set(c.bytes)
		require.Equal(t, c.want, m.ComputePressure(), "bytes=%d", c.bytes)
	}
}

func TestZeroBudgetNeverReportsPressure(t *testing.T) {
	m := NewManager(0)
	register(m, "QueryCache", 0, 1<<40)
	require.Equal(t, Low, m.ComputePressure())
	require.Empty(t, m.RunEviction())
}

func TestRunEvictionUnderBudgetIsNoop(t *testing.T) {
	m := NewManager(1000)
	e := register(m, "QueryCache", 0, 400)

	results := m.RunEviction()
	require.Empty(t, results)
	require.Empty(t, e.requests)
}

func TestRunEvictionBringsTotalUnderBudget(t *testing.T) {
	m := NewManager(1000)
	e := register(m, "QueryCache", 0, 1500)

	results := m.RunEviction()
	require.Len(t, results, 1)
	require.Equal(t, int64(1500), results["QueryCache"].BeforeBytes)
	require.Equal(t, int64(1000), results["QueryCache"].AfterBytes)
	require.Equal(t, int64(1000), m.TotalBytes())

	require.Len(t, e.requests, 1)
	require.Equal(t, Critical, e.requests[0].Pressure)
}

func TestRunEvictionHonorsPriorityOrder(t *testing.T) {
	m := NewManager(1000)
	ast := register(m, "AstCache", 1, 600)
	query := register(m, "QueryCache", 0, 900)

	results := m.RunEviction()

	// QueryCache (priority 0) absorbs the full 500-byte overage; AstCache
	// is never asked.
	require.Len(t, results, 1)
	require.Len(t, query.requests, 1)
	require.Equal(t, int64(400), query.tracker.Bytes())
	require.Empty(t, ast.requests)
	require.Equal(t, int64(600), ast.tracker.Bytes())
}

func TestRunEvictionSpillsToNextEvictor(t *testing.T) {
	m := NewManager(1000)
	query := register(m, "QueryCache", 0, 300)
	ast := register(m, "AstCache", 1, 1200)

	m.RunEviction()

	// QueryCache can only free 300; AstCache covers the remaining 200.
	require.Equal(t, int64(0), query.tracker.Bytes())
	require.Equal(t, int64(1000), ast.tracker.Bytes())
	require.Equal(t, int64(1000), m.TotalBytes())
}
