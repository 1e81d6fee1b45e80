// Copyright 2025 Nova Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Sink receives categorized, debounced batches from a running Watcher.
type Sink interface {
	OnBatch(Batch)
	OnError(error)
}

// Watcher drives an fsnotify.Watcher, normalizes and categorizes its raw
// events, debounces them per category, and delivers ready batches to a
// Sink.
type Watcher struct {
	fsw        *fsnotify.Watcher
	normalizer *EventNormalizer
	debouncer  *Debouncer
	cfg        CategorizeConfig
	sink       Sink
	log        *slog.Logger
}

// NewWatcher creates a Watcher with no directories registered. Callers Add
// every directory that should be observed (fsnotify does not recurse). The
// debounce windows are fixed at 200ms for Source and 1200ms for Build.
func NewWatcher(cfg CategorizeConfig, sink Sink, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		fsw:        fsw,
		normalizer: NewEventNormalizer(),
		debouncer: NewDebouncer(map[Category]time.Duration{
			Source: 200 * time.Millisecond,
			Build:  1200 * time.Millisecond,
		}),
		cfg:  cfg,
		sink: sink,
		log:  log,
	}, nil
}

// Add registers dir (non-recursively) for watching.
func (w *Watcher) Add(dir string) error {
	return w.fsw.Add(dir)
}

// Run drives the watch loop until ctx is cancelled, flushing any remaining
// pending batches before returning so a restart never discards pending
// state.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.flushRemaining()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.fsw.Close()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleRaw(ev, time.Now())
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.sink.OnError(err)
		case <-ticker.C:
			w.flushDue(time.Now())
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event, now time.Time) {
	raw, ok := fromFsnotify(ev)
	if !ok {
		return
	}
	for _, normalized := range w.normalizer.Push(raw, now) {
		cat, ok := Categorize(w.cfg, normalized)
		if !ok {
			continue
		}
		w.debouncer.Push(cat, normalized, now)
	}
}

func (w *Watcher) flushDue(now time.Time) {
	for _, b := range w.debouncer.FlushDue(now) {
		w.sink.OnBatch(b)
	}
}

func (w *Watcher) flushRemaining() {
	for _, b := range w.debouncer.FlushAll() {
		w.sink.OnBatch(b)
	}
}

// fromFsnotify maps an fsnotify.Event onto the normalizer's raw event shape.
// fsnotify reports renames as two independent events (Rename on the old
// path, Create on the new path) rather than as a paired from/to operation,
// so a Rename op is treated as RenameFrom and a Create as RenameTo: the
// normalizer's existing pairing window reassembles them into a Moved event
// the same way it would for a watcher that reports true rename pairs.
func fromFsnotify(ev fsnotify.Event) (RawEvent, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return RawEvent{Kind: RawRenameTo, Paths: []string{ev.Name}}, true
	case ev.Has(fsnotify.Remove):
		return RawEvent{Kind: RawRemove, Paths: []string{ev.Name}}, true
	case ev.Has(fsnotify.Rename):
		return RawEvent{Kind: RawRenameFrom, Paths: []string{ev.Name}}, true
	case ev.Has(fsnotify.Write):
		return RawEvent{Kind: RawModifyData, Paths: []string{ev.Name}}, true
	case ev.Has(fsnotify.Chmod):
		return RawEvent{Kind: RawModifyMetadata, Paths: []string{ev.Name}}, true
	default:
		return RawEvent{}, false
	}
}
