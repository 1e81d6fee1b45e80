// Copyright 2025 Nova Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRenameFromToIntoMove(t *testing.T) {
	n := NewEventNormalizer()
	now := time.Now()

	out := n.Push(RawEvent{Kind: RawRenameFrom, Paths: []string{"/ws/Old.java"}}, now)
	assert.Empty(t, out)

	out = n.Push(RawEvent{Kind: RawRenameTo, Paths: []string{"/ws/New.java"}}, now.Add(10*time.Millisecond))
	require.Len(t, out, 1)
	assert.Equal(t, Moved, out[0].Kind)
	assert.Equal(t, "/ws/Old.java", out[0].From)
	assert.Equal(t, "/ws/New.java", out[0].To)
}

func TestOrphanedRenameFromExpiresAfterWindow(t *testing.T) {
	n := NewEventNormalizer()
	now := time.Now()

	out := n.Push(RawEvent{Kind: RawRenameFrom, Paths: []string{"/ws/Old.java"}}, now)
	assert.Empty(t, out)

	// A RenameTo arriving after the 2s pairing window must not pair with the
	// stale pending entry; it is reported as a fresh Created instead.
	out = n.Push(RawEvent{Kind: RawRenameTo, Paths: []string{"/ws/New.java"}}, now.Add(3*time.Second))
	require.Len(t, out, 1)
	assert.Equal(t, Created, out[0].Kind)
	assert.Equal(t, "/ws/New.java", out[0].Path)
}

func TestPendingRenameCapBoundsMemory(t *testing.T) {
	n := NewEventNormalizer()
	now := time.Now()

	for i := 0; i < maxPendingRenames+100; i++ {
		n.Push(RawEvent{Kind: RawRenameFrom, Paths: []string{"/ws/f.java"}}, now)
	}
	assert.LessOrEqual(t, len(n.pending), maxPendingRenames)
}

func TestCategorizeBuildFileBeatsSourceExtension(t *testing.T) {
	cfg := DefaultCategorizeConfig([]string{"/ws/src"}, nil)

	cat, ok := Categorize(cfg, NormalizedEvent{Kind: Modified, Path: "/ws/pom.xml"})
	require.True(t, ok)
	assert.Equal(t, Build, cat)

	cat, ok = Categorize(cfg, NormalizedEvent{Kind: Modified, Path: "/ws/src/App.java"})
	require.True(t, ok)
	assert.Equal(t, Source, cat)

	_, ok = Categorize(cfg, NormalizedEvent{Kind: Modified, Path: "/ws/README.md"})
	assert.False(t, ok)
}

func TestCategoryPriorityOrdersBuildBeforeSource(t *testing.T) {
	assert.Less(t, Build.Priority(), Source.Priority())
}

func TestDebouncerFlushesOnceWindowElapses(t *testing.T) {
	d := NewDebouncer(map[Category]time.Duration{
		Source: 200 * time.Millisecond,
		Build:  1200 * time.Millisecond,
	})
	now := time.Now()
	d.Push(Source, NormalizedEvent{Kind: Modified, Path: "/ws/A.java"}, now)

	assert.Empty(t, d.FlushDue(now.Add(100*time.Millisecond)))

	batches := d.FlushDue(now.Add(250 * time.Millisecond))
	require.Len(t, batches, 1)
	assert.Equal(t, Source, batches[0].Category)
	assert.Len(t, batches[0].Events, 1)

	// A second flush with nothing pending yields nothing.
	assert.Empty(t, d.FlushDue(now.Add(500*time.Millisecond)))
}

func TestDebouncerFlushesBuildBeforeSourceInSameTick(t *testing.T) {
	d := NewDebouncer(map[Category]time.Duration{
		Source: 200 * time.Millisecond,
		Build:  1200 * time.Millisecond,
	})
	now := time.Now()
	d.Push(Source, NormalizedEvent{Kind: Modified, Path: "/ws/A.java"}, now)
	d.Push(Build, NormalizedEvent{Kind: Modified, Path: "/ws/pom.xml"}, now)

	// Both deadlines have elapsed by the time the consumer ticks; the
	// classpath-invalidating build batch must come out first.
	batches := d.FlushDue(now.Add(2 * time.Second))
	require.Len(t, batches, 2)
	assert.Equal(t, Build, batches[0].Category)
	assert.Equal(t, Source, batches[1].Category)
}

func TestDebouncerFlushAllOrdersBuildFirst(t *testing.T) {
	d := NewDebouncer(map[Category]time.Duration{
		Source: 200 * time.Millisecond,
		Build:  1200 * time.Millisecond,
	})
	now := time.Now()
	d.Push(Source, NormalizedEvent{Kind: Modified, Path: "/ws/A.java"}, now)
	d.Push(Build, NormalizedEvent{Kind: Modified, Path: "/ws/pom.xml"}, now)

	batches := d.FlushAll()
	require.Len(t, batches, 2)
	assert.Equal(t, Build, batches[0].Category)
	assert.Equal(t, Source, batches[1].Category)
}

func TestDebouncerNextDeadlinePicksEarliest(t *testing.T) {
	d := NewDebouncer(map[Category]time.Duration{
		Source: 200 * time.Millisecond,
		Build:  1200 * time.Millisecond,
	})
	now := time.Now()
	d.Push(Build, NormalizedEvent{Kind: Modified, Path: "/ws/pom.xml"}, now)
	d.Push(Source, NormalizedEvent{Kind: Modified, Path: "/ws/A.java"}, now)

	deadline, ok := d.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, now.Add(200*time.Millisecond), deadline)
}

func TestDebouncerFlushAllIgnoresDeadline(t *testing.T) {
	d := NewDebouncer(map[Category]time.Duration{Build: 1200 * time.Millisecond})
	now := time.Now()
	d.Push(Build, NormalizedEvent{Kind: Modified, Path: "/ws/pom.xml"}, now)

	batches := d.FlushAll()
	require.Len(t, batches, 1)
	assert.Equal(t, Build, batches[0].Category)
}
