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

// Package orchestrator provides a depth-1 build queue
// with a single dedicated worker, where enqueuing a new build cancels
// whatever is queued or running. Cancellation always dominates the
// reported result, even when the underlying work finished successfully
// before the cancellation was observed.
package orchestrator

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novaide/nova/pkg/sanitize"
)

// State is the lifecycle of one build.
type State int

const (
	Queued State = iota
	Running
	Success
	Failure
	Cancelled
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// BuildRequest describes one build to run.
type BuildRequest struct {
	Targets     []string
	Description string
}

// Executor runs a build. A nil error with a non-cancelled context means
// success; the orchestrator overrides the outcome to Cancelled whenever
// the request's cancellation token fired, regardless of what Compile
// returns.
type Executor interface {
	Compile(ctx context.Context, req BuildRequest) error
}

// StatusSnapshot reports the orchestrator's current state.
type StatusSnapshot struct {
	State         State
	ActiveID      uint64
	Queued        bool
	LastCompleted uint64
	Message       string
	LastError     string
}

// DiagnosticsSnapshot reports detail about one build by id.
type DiagnosticsSnapshot struct {
	BuildID uint64
	State   State
	Targets []string
	Error   string
}

type queuedBuild struct {
	id  uint64
	req BuildRequest
}

type runningBuild struct {
	id     uint64
	req    BuildRequest
	cancel context.CancelFunc
	done   <-chan struct{}
}

type completedBuild struct {
	id    uint64
	req   BuildRequest
	state State
	err   string
}

type state struct {
	nextID  uint64
	queue   *queuedBuild
	running *runningBuild
	last    *completedBuild
}

// Orchestrator serializes builds through one worker goroutine, with a
// queue depth of exactly one: enqueuing while a build is queued or running
// replaces the queued entry and cancels the running one.
type Orchestrator struct {
	executor Executor

	mu    sync.Mutex
	cond  *sync.Cond
	st    state
	wake  chan struct{}
	close chan struct{}

	completions   prometheus.Counter
	cancellations prometheus.Counter
}

// New constructs an Orchestrator and starts its worker goroutine.
func New(executor Executor) *Orchestrator {
	o := &Orchestrator{
		executor: executor,
		close:    make(chan struct{}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nova_orchestrator_completions_total",
			Help: "Total builds that reached a terminal state.",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nova_orchestrator_cancellations_total",
			Help: "Total builds that ended cancelled.",
		}),
	}
	o.cond = sync.NewCond(&o.mu)
	go o.workerLoop()
	return o
}

// Collectors returns the orchestrator's Prometheus collectors for
// registration.
func (o *Orchestrator) Collectors() []prometheus.Collector {
	return []prometheus.Collector{o.completions, o.cancellations}
}

// Enqueue schedules req, cancelling any currently running build and
// replacing any currently queued one, and returns the new build's id.
func (o *Orchestrator) Enqueue(req BuildRequest) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.st.nextID
	o.st.nextID++
	o.st.queue = &queuedBuild{id: id, req: req}

	if o.st.running != nil {
		o.st.running.cancel()
	}

	o.cond.Signal()
	return id
}

// Cancel cancels the running build, if any, without touching the queue.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st.running != nil {
		o.st.running.cancel()
	}
}

// Reset clears queued, running (cancelling it) and last-completed state.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.st.queue = nil
	if o.st.running != nil {
		o.st.running.cancel()
	}
	o.st.last = nil
}

// Status returns a snapshot of the orchestrator's current state.
func (o *Orchestrator) Status() StatusSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := StatusSnapshot{Queued: o.st.queue != nil}
	switch {
	case o.st.running != nil:
		snap.State = Running
		snap.ActiveID = o.st.running.id
		snap.Message = o.st.running.req.Description
	case o.st.last != nil:
		snap.State = o.st.last.state
		snap.ActiveID = o.st.last.id
		snap.LastCompleted = o.st.last.id
		snap.LastError = o.st.last.err
	default:
		snap.State = Queued
	}
	return snap
}

// Diagnostics returns detail for the last completed or currently running
// build.
func (o *Orchestrator) Diagnostics() DiagnosticsSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.st.running != nil {
		return DiagnosticsSnapshot{BuildID: o.st.running.id, State: Running, Targets: o.st.running.req.Targets}
	}
	if o.st.last != nil {
		return DiagnosticsSnapshot{
			BuildID: o.st.last.id,
			State:   o.st.last.state,
			Targets: o.st.last.req.Targets,
			Error:   o.st.last.err,
		}
	}
	return DiagnosticsSnapshot{}
}

// Stop terminates the worker goroutine. It does not wait for a running
// build to finish.
func (o *Orchestrator) Stop() {
	close(o.close)
	o.cond.Broadcast()
}

func (o *Orchestrator) workerLoop() {
	for {
		o.mu.Lock()
		for o.st.queue == nil {
			select {
			case <-o.close:
				o.mu.Unlock()
				return
			default:
			}
			o.cond.Wait()
			select {
			case <-o.close:
				o.mu.Unlock()
				return
			default:
			}
		}
		qb := o.st.queue
		o.st.queue = nil

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		o.st.running = &runningBuild{id: qb.id, req: qb.req, cancel: cancel, done: done}
		o.mu.Unlock()

		result := o.runBuild(ctx, qb.req)

		o.mu.Lock()
		o.st.running = nil
		o.st.last = &completedBuild{id: qb.id, req: qb.req, state: result.state, err: result.err}
		hasQueued := o.st.queue != nil
		o.mu.Unlock()
		close(done)
		cancel()

		o.completions.Inc()
		if result.state == Cancelled {
			o.cancellations.Inc()
		}
		if hasQueued {
			o.cond.Signal()
		}
	}
}

type buildResult struct {
	state State
	err   string
}

func (o *Orchestrator) runBuild(ctx context.Context, req BuildRequest) buildResult {
	if len(req.Targets) == 0 {
		return buildResult{state: Failure, err: "no build targets specified"}
	}

	err := o.executor.Compile(ctx, req)

	// Cancellation dominates: even a nil-error outcome is reported
	// Cancelled if the context was cancelled before or during the run.
	if ctx.Err() != nil {
		return buildResult{state: Cancelled}
	}
	if err != nil {
		return buildResult{state: Failure, err: sanitize.Chain(err)}
	}
	return buildResult{state: Success}
}
