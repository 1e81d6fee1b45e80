// Copyright 2025 Nova Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	started chan BuildRequest
	unblock chan struct{}
	err     error
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{started: make(chan BuildRequest, 8), unblock: make(chan struct{})}
}

func (e *recordingExecutor) Compile(ctx context.Context, req BuildRequest) error {
	e.started <- req
	select {
	case <-e.unblock:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type failingExecutor struct{ err error }

func (e failingExecutor) Compile(context.Context, BuildRequest) error { return e.err }

func waitForState(t *testing.T, o *Orchestrator, want State, timeout time.Duration) StatusSnapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap := o.Status()
		if snap.State == want {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, last snapshot %+v", want, o.Status())
	return StatusSnapshot{}
}

func TestEnqueueRunsAndReportsSuccess(t *testing.T) {
	exec := newRecordingExecutor()
	o := New(exec)
	defer o.Stop()

	o.Enqueue(BuildRequest{Targets: []string{"//foo"}})
	<-exec.started
	close(exec.unblock)

	snap := waitForState(t, o, Success, time.Second)
	assert.Equal(t, Success, snap.State)
}

func TestEmptyTargetsFailsWithoutRunningExecutor(t *testing.T) {
	exec := newRecordingExecutor()
	o := New(exec)
	defer o.Stop()

	o.Enqueue(BuildRequest{})
	waitForState(t, o, Failure, time.Second)

	select {
	case <-exec.started:
		t.Fatal("executor should not run for an empty target list")
	default:
	}
}

func TestEnqueueCancelsRunningBuild(t *testing.T) {
	exec := newRecordingExecutor()
	o := New(exec)
	defer o.Stop()

	fooID := o.Enqueue(BuildRequest{Targets: []string{"//foo"}})
	<-exec.started

	// Replacing the queue while //foo is running must cancel it.
	o.Enqueue(BuildRequest{Targets: []string{"//bar"}})

	// The worker starts //bar right after recording //foo's outcome, so
	// Status moves straight back to Running; check the recorded outcome
	// once //bar has started instead.
	<-exec.started
	o.mu.Lock()
	last := o.st.last
	o.mu.Unlock()
	require.NotNil(t, last)
	assert.Equal(t, fooID, last.id)
	assert.Equal(t, Cancelled, last.state)

	close(exec.unblock)
	waitForState(t, o, Success, time.Second)
}

func TestCancellationDominatesSuccessfulResult(t *testing.T) {
	exec := newRecordingExecutor()
	o := New(exec)
	defer o.Stop()

	o.Enqueue(BuildRequest{Targets: []string{"//foo"}})
	<-exec.started
	o.Cancel()
	close(exec.unblock) // executor "succeeds" after cancellation fired

	snap := waitForState(t, o, Cancelled, time.Second)
	assert.Equal(t, Cancelled, snap.State)
}

func TestFailureMessageIsSanitized(t *testing.T) {
	exec := failingExecutor{err: errors.New("found unknown field `weird`, TOML parse error at line 1:\n  |\n1 | bad\n  | ^^^")}
	o := New(exec)
	defer o.Stop()

	o.Enqueue(BuildRequest{Targets: []string{"//foo"}})
	snap := waitForState(t, o, Failure, time.Second)
	assert.Contains(t, snap.LastError, "<redacted>")
	assert.NotContains(t, snap.LastError, "bad")
}

func TestResetClearsLastCompleted(t *testing.T) {
	exec := failingExecutor{err: errors.New("boom")}
	o := New(exec)
	defer o.Stop()

	o.Enqueue(BuildRequest{Targets: []string{"//foo"}})
	waitForState(t, o, Failure, time.Second)

	o.Reset()
	snap := o.Status()
	assert.Equal(t, Queued, snap.State)
	require.Zero(t, snap.LastCompleted)
}
