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

// Package watch normalizes raw filesystem events into a small,
// OS-independent event shape, categorizes them into Source vs. Build, and
// emits debounced, per-category batches.
package watch

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Category is the coarse classification of a change batch. Build sorts
// ahead of Source so a consumer draining multiple ready categories in one
// tick processes build-file changes, which may invalidate classpaths,
// before source edits.
type Category int

const (
	Source Category = iota
	Build
)

// Priority orders categories when a consumer drains more than one ready
// category in a single tick: lower runs first, and Build always precedes
// Source.
func (c Category) Priority() int {
	if c == Build {
		return 0
	}
	return 1
}

func (c Category) String() string {
	if c == Build {
		return "build"
	}
	return "source"
}

// EventKind classifies a NormalizedEvent.
type EventKind int

const (
	Created EventKind = iota
	Modified
	Deleted
	Moved
)

// NormalizedEvent is the canonical, OS-independent change shape.
type NormalizedEvent struct {
	Kind EventKind
	Path string // set for Created/Modified/Deleted
	From string // set for Moved
	To   string // set for Moved
}

// Paths returns every path touched by the event, for categorization.
func (e NormalizedEvent) Paths() []string {
	if e.Kind == Moved {
		return []string{e.From, e.To}
	}
	return []string{e.Path}
}

// RawEventKind is the subset of raw watcher event kinds the normalizer
// understands, independent of which OS-level watcher library produced them.
type RawEventKind int

const (
	RawCreate RawEventKind = iota
	RawRemove
	RawModifyData
	RawModifyMetadata
	RawModifyOther
	RawRenameFrom
	RawRenameTo
	RawRenameBoth
	RawRenameAny
	RawRenameOther
)

// RawEvent is the normalizer's input shape, produced by a watcher adapter
// (e.g. the fsnotify-backed Watcher in this package).
type RawEvent struct {
	Kind  RawEventKind
	Paths []string
}

const renamePairWindow = 2 * time.Second
const maxPendingRenames = 512

type pendingRename struct {
	at   time.Time
	path string
}

// EventNormalizer collapses Rename-From/Rename-To pairs observed within a
// 2-second window into a single Moved event; orphaned From entries older
// than that window are dropped, and a cap of 512 pending entries bounds
// memory under rename storms.
type EventNormalizer struct {
	pending []pendingRename
}

// NewEventNormalizer constructs an empty normalizer.
func NewEventNormalizer() *EventNormalizer {
	return &EventNormalizer{}
}

// Push feeds one raw event at time now and returns zero or more normalized
// events it produces immediately. Rename-From events produce nothing until
// a matching Rename-To arrives (or the pending entry expires).
func (n *EventNormalizer) Push(ev RawEvent, now time.Time) []NormalizedEvent {
	n.gcPending(now)

	switch ev.Kind {
	case RawCreate:
		return mapPaths(ev.Paths, Created)
	case RawRemove:
		return mapPaths(ev.Paths, Deleted)
	case RawModifyData, RawModifyMetadata, RawModifyOther:
		return mapPaths(ev.Paths, Modified)
	case RawRenameBoth:
		return pathsToMoves(ev.Paths)
	case RawRenameFrom:
		for _, p := range ev.Paths {
			n.pending = append(n.pending, pendingRename{at: now, path: p})
		}
		if len(n.pending) > maxPendingRenames {
			n.pending = n.pending[len(n.pending)-maxPendingRenames:]
		}
		return nil
	case RawRenameTo:
		out := make([]NormalizedEvent, 0, len(ev.Paths))
		for _, to := range ev.Paths {
			if len(n.pending) > 0 {
				from := n.pending[0]
				n.pending = n.pending[1:]
				out = append(out, NormalizedEvent{Kind: Moved, From: from.path, To: to})
			} else {
				out = append(out, NormalizedEvent{Kind: Created, Path: to})
			}
		}
		return out
	case RawRenameAny, RawRenameOther:
		return mapPaths(ev.Paths, Modified)
	default:
		return mapPaths(ev.Paths, Modified)
	}
}

func (n *EventNormalizer) gcPending(now time.Time) {
	i := 0
	for ; i < len(n.pending); i++ {
		if now.Sub(n.pending[i].at) <= renamePairWindow {
			break
		}
	}
	n.pending = n.pending[i:]

	if len(n.pending) > maxPendingRenames {
		n.pending = n.pending[len(n.pending)-maxPendingRenames:]
	}
}

func mapPaths(paths []string, kind EventKind) []NormalizedEvent {
	out := make([]NormalizedEvent, 0, len(paths))
	for _, p := range paths {
		out = append(out, NormalizedEvent{Kind: kind, Path: p})
	}
	return out
}

func pathsToMoves(paths []string) []NormalizedEvent {
	var out []NormalizedEvent
	for len(paths) >= 2 {
		out = append(out, NormalizedEvent{Kind: Moved, From: paths[0], To: paths[1]})
		paths = paths[2:]
	}
	if len(paths) == 1 {
		out = append(out, NormalizedEvent{Kind: Modified, Path: paths[0]})
	}
	return out
}

// CategorizeConfig holds the roots and extensions used to classify an event
// into Source, Build, or dropped entirely.
type CategorizeConfig struct {
	SourceRoots          []string
	GeneratedSourceRoots []string
	SourceExtensions     []string // e.g. "java"; compared case-sensitively without the dot
	BuildFileBasenames   []string // exact names, e.g. "pom.xml"
	BuildFilePrefixes    []string // prefix match, e.g. "build.gradle", "settings.gradle"
}

// DefaultCategorizeConfig returns the stock Java source extension and
// Maven/Gradle build file sets over the given roots.
func DefaultCategorizeConfig(sourceRoots, generatedSourceRoots []string) CategorizeConfig {
	return CategorizeConfig{
		SourceRoots:          sourceRoots,
		GeneratedSourceRoots: generatedSourceRoots,
		SourceExtensions:     []string{"java"},
		BuildFileBasenames:   []string{"pom.xml"},
		BuildFilePrefixes:    []string{"build.gradle", "settings.gradle"},
	}
}

// Categorize classifies a normalized event, returning (category, true) or
// (_, false) when the event should be dropped.
func Categorize(cfg CategorizeConfig, ev NormalizedEvent) (Category, bool) {
	for _, p := range ev.Paths() {
		if isBuildFile(cfg, p) {
			return Build, true
		}
	}
	for _, p := range ev.Paths() {
		if !hasSourceExtension(cfg, p) {
			continue
		}
		if isWithinAny(p, cfg.SourceRoots) || isWithinAny(p, cfg.GeneratedSourceRoots) {
			return Source, true
		}
	}
	return 0, false
}

func isBuildFile(cfg CategorizeConfig, path string) bool {
	name := filepath.Base(path)
	for _, b := range cfg.BuildFileBasenames {
		if name == b {
			return true
		}
	}
	for _, prefix := range cfg.BuildFilePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func hasSourceExtension(cfg CategorizeConfig, path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, e := range cfg.SourceExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func isWithinAny(path string, roots []string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

// Batch is one debounced, categorized emission.
type Batch struct {
	Category Category
	Events   []NormalizedEvent
}

type categoryState struct {
	window   time.Duration
	pending  []NormalizedEvent
	deadline time.Time
	has      bool
}

// Debouncer maintains a per-category pending list and emits a batch once
// that category's debounce window has elapsed since the last push.
type Debouncer struct {
	byCategory map[Category]*categoryState
	order      []Category
}

// NewDebouncer constructs a Debouncer with the given per-category windows.
// Categories flush in Priority order, so a Build batch always drains ahead
// of a Source batch that came due in the same tick.
func NewDebouncer(windows map[Category]time.Duration) *Debouncer {
	d := &Debouncer{byCategory: make(map[Category]*categoryState)}
	for c := range windows {
		d.byCategory[c] = &categoryState{window: windows[c]}
		d.order = append(d.order, c)
	}
	sortByPriority(d.order)
	return d
}

// Push records event under category and (re)schedules that category's
// deadline to now+window.
func (d *Debouncer) Push(category Category, event NormalizedEvent, now time.Time) {
	st, ok := d.byCategory[category]
	if !ok {
		st = &categoryState{window: 200 * time.Millisecond}
		d.byCategory[category] = st
		d.order = append(d.order, category)
		sortByPriority(d.order)
	}
	st.pending = append(st.pending, event)
	st.deadline = now.Add(st.window)
	st.has = true
}

func sortByPriority(cats []Category) {
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Priority() != cats[j].Priority() {
			return cats[i].Priority() < cats[j].Priority()
		}
		return cats[i] < cats[j]
	})
}

// FlushDue emits a Batch for every category whose deadline has elapsed at
// or before now, clearing that category's pending list.
func (d *Debouncer) FlushDue(now time.Time) []Batch {
	var out []Batch
	for _, c := range d.order {
		st := d.byCategory[c]
		if !st.has || now.Before(st.deadline) {
			continue
		}
		out = append(out, Batch{Category: c, Events: st.pending})
		st.pending = nil
		st.has = false
	}
	return out
}

// FlushAll emits every category's pending batch regardless of deadline,
// used when the watcher is shutting down: pending batches are flushed on
// stop, not discarded.
func (d *Debouncer) FlushAll() []Batch {
	var out []Batch
	for _, c := range d.order {
		st := d.byCategory[c]
		if !st.has {
			continue
		}
		out = append(out, Batch{Category: c, Events: st.pending})
		st.pending = nil
		st.has = false
	}
	return out
}

// NextDeadline returns the earliest pending deadline across all categories.
func (d *Debouncer) NextDeadline() (time.Time, bool) {
	var best time.Time
	found := false
	for _, c := range d.order {
		st := d.byCategory[c]
		if !st.has {
			continue
		}
		if !found || st.deadline.Before(best) {
			best = st.deadline
			found = true
		}
	}
	return best, found
}
