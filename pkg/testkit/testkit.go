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

// Package testkit provides the deterministic test doubles shared across the
// rest of this module's test suites: an injectable clock, an in-memory
// filesystem satisfying pkg/vfs.LocalFS, and recording/failing build
// executors satisfying pkg/orchestrator.Executor.
package testkit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/novaide/nova/pkg/orchestrator"
)

// Clock abstracts time so debounce and GC-age logic can be tested without
// real sleeps.
type Clock interface {
	Now() time.Time
}

// RealClock delegates to time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced clock for deterministic tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock constructs a FakeClock starting at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now implements Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set pins the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// MemFS is an in-memory filesystem satisfying pkg/vfs.LocalFS, so tests
// that read through it never touch the real disk.
type MemFS struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemFS constructs an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

// ReadFile implements pkg/vfs.LocalFS.
func (f *MemFS) ReadFile(path string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.files[path]
	if !ok {
		return nil, errors.New("testkit: no such file: " + path)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// WriteFile sets path's content, creating or overwriting it.
func (f *MemFS) WriteFile(path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), content...)
}

// Remove deletes path.
func (f *MemFS) Remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
}

// RecordingExecutor is an orchestrator.Executor that records every request
// it receives and blocks until told to finish, for tests that need to
// observe a build mid-flight (e.g. to exercise cancel-and-replace).
type RecordingExecutor struct {
	Started chan orchestrator.BuildRequest
	unblock chan struct{}
	once    sync.Once
	err     error
}

// NewRecordingExecutor constructs a RecordingExecutor that returns err (nil
// for success) once Finish is called.
func NewRecordingExecutor(err error) *RecordingExecutor {
	return &RecordingExecutor{
		Started: make(chan orchestrator.BuildRequest, 16),
		unblock: make(chan struct{}),
		err:     err,
	}
}

// Compile implements orchestrator.Executor.
func (e *RecordingExecutor) Compile(ctx context.Context, req orchestrator.BuildRequest) error {
	e.Started <- req
	select {
	case <-e.unblock:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish unblocks every in-flight and future Compile call.
func (e *RecordingExecutor) Finish() {
	e.once.Do(func() { close(e.unblock) })
}

// FailingExecutor is an orchestrator.Executor that always fails immediately
// without blocking, for tests of the failure path.
type FailingExecutor struct {
	Err error
}

// Compile implements orchestrator.Executor.
func (e FailingExecutor) Compile(context.Context, orchestrator.BuildRequest) error {
	if e.Err != nil {
		return e.Err
	}
	return errors.New("testkit: simulated build failure")
}
