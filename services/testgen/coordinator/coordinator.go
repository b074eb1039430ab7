// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package coordinator serializes generate and run requests against a single
// shared backend.
//
// The concurrency model is a size-1 resource slot with a FIFO wait list: at
// most one generation or run is active system-wide, modeling the one
// generation/execution backend, and deliberately trading throughput for
// simplicity and freedom from concurrent-request rate limits. Requests for
// distinct functions queue in arrival order with no priority between
// generates and runs; a second request for a function that is already
// mid-operation is rejected outright, never queued and never silently
// dropped. Only queued requests can be cancelled — an active operation runs
// to completion or failure.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RoraAI/RoraEngine/services/testgen/registry"
	"github.com/RoraAI/RoraEngine/services/testgen/results"
)

// State is a function key's position in the operation lifecycle. The zero
// value (absence from the state map) means idle.
type State string

const (
	// StateIdle means no operation is accepted, queued, or active for the key.
	StateIdle State = "idle"
	// StateGenerating means a generate operation is accepted or active.
	StateGenerating State = "generating"
	// StateRunning means a run operation is accepted or active.
	StateRunning State = "running"
)

// Kind distinguishes the two request-shaped operations the coordinator
// serializes.
type Kind string

const (
	// KindGenerate requests test generation (or regeneration).
	KindGenerate Kind = "generate"
	// KindRun requests test execution.
	KindRun Kind = "run"
)

// Sentinel errors surfaced to callers.
var (
	// ErrOperationInProgress rejects a request for a function that is already
	// mid-operation. A distinct, recoverable condition — the caller informs
	// the user and retries later; the coordinator is unaffected.
	ErrOperationInProgress = errors.New("an operation is already in progress for this function")

	// ErrNotQueued means a cancellation target is not in the wait list —
	// either unknown or already started. Active operations cannot be
	// cancelled.
	ErrNotQueued = errors.New("request is not queued")

	// ErrClosed means the coordinator is shut down.
	ErrClosed = errors.New("coordinator is closed")
)

// Operations is the collaborator surface the coordinator drives. The
// orchestration pipeline behind each call (LLM, merge, file I/O, registry)
// belongs to the service layer; the coordinator owns only sequencing and
// state.
//
// Thread Safety: Implementations must be safe for concurrent use; the
// coordinator invokes at most one operation at a time by construction.
type Operations interface {
	// HasTest reports whether a runnable binding exists for the key. Decides
	// whether a run request needs the generate sub-flow first.
	HasTest(sourceFile, functionName string) bool

	// Generate produces, places, and registers a test for the function.
	Generate(ctx context.Context, req Request) (*GenerateOutcome, error)

	// Run executes the function's registered test and applies result updates.
	Run(ctx context.Context, req Request) (*RunOutcome, error)
}

// Request is one accepted generate or run request.
type Request struct {
	// ID identifies the request for cancellation and event correlation.
	ID uuid.UUID `json:"id"`

	// Kind is generate or run.
	Kind Kind `json:"kind"`

	// SourceFile and FunctionName form the operation key.
	SourceFile   string `json:"source_file"`
	FunctionName string `json:"function_name"`

	// Regenerate requests in-place replacement of a previously generated
	// test. Only meaningful for KindGenerate.
	Regenerate bool `json:"regenerate,omitempty"`

	// EnqueuedAt orders the FIFO wait list; stamped on acceptance.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// key returns the operation key for the request's function.
func (r Request) key() string {
	return registry.Key(r.SourceFile, r.FunctionName)
}

// GenerateOutcome is the payload of a completed generation.
type GenerateOutcome struct {
	Binding registry.Binding `json:"binding"`
}

// RunOutcome is the payload of a completed run.
type RunOutcome struct {
	Report *results.Report `json:"report"`
}

// Result is what a waiter receives when its request leaves the coordinator.
// Exactly one of Generate/Run is set on success; Err is set on failure.
type Result struct {
	Generate *GenerateOutcome `json:"generate,omitempty"`
	Run      *RunOutcome      `json:"run,omitempty"`
	Err      error            `json:"-"`
}

// Ticket is the caller's handle on an accepted request.
type Ticket struct {
	Request Request
	done    chan Result
}

// Wait blocks until the request completes, fails, or is cancelled, or until
// ctx is done. A ctx expiry does not cancel the request — queued requests
// are cancelled explicitly via Coordinator.Cancel.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-t.done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Event is one operation-state transition, published to the optional
// notifier for editor status updates.
type Event struct {
	RequestID    uuid.UUID `json:"request_id"`
	SourceFile   string    `json:"source_file"`
	FunctionName string    `json:"function_name"`
	Kind         Kind      `json:"kind"`
	State        State     `json:"state"`
	At           time.Time `json:"at"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier registers a callback invoked on every state transition. The
// callback runs on the coordinator's worker goroutine and must not block.
func WithNotifier(fn func(Event)) Option {
	return func(c *Coordinator) { c.notify = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator owns the per-function state machine and the global FIFO queue.
//
// Thread Safety: Safe for concurrent use. All operations execute on one
// worker goroutine; Submit/Cancel/Snapshot only touch the guarded queue and
// state map.
type Coordinator struct {
	ops    Operations
	logger *slog.Logger
	notify func(Event)

	mu     sync.Mutex
	states map[string]State
	queue  []*Ticket
	active *Ticket
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New creates a Coordinator and starts its worker goroutine.
//
// The caller must Close the coordinator to stop the worker and fail any
// still-queued requests.
func New(ops Operations, opts ...Option) *Coordinator {
	c := &Coordinator{
		ops:    ops,
		logger: slog.Default(),
		states: make(map[string]State),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.work()
	return c
}

// Submit accepts a request into the queue.
//
// Description:
//
//	Rejection, not queueing, is the rule for duplicate keys: if the function
//	is already accepted, queued, or active (state generating or running),
//	Submit returns ErrOperationInProgress immediately. Otherwise the request
//	is stamped, its state set, and it joins the FIFO tail.
//
// Outputs:
//   - *Ticket: Handle for awaiting the result. Nil on rejection.
//   - error: ErrOperationInProgress, ErrClosed, or nil.
func (c *Coordinator) Submit(req Request) (*Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	key := req.key()
	if state, busy := c.states[key]; busy {
		c.logger.Debug("request rejected: key busy",
			slog.String("key", key),
			slog.String("state", string(state)))
		rejectionsTotal.WithLabelValues(string(req.Kind)).Inc()
		return nil, fmt.Errorf("%w: %s is %s", ErrOperationInProgress, req.FunctionName, state)
	}

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.EnqueuedAt = time.Now()

	ticket := &Ticket{Request: req, done: make(chan Result, 1)}
	c.setStateLocked(ticket, stateForKind(req.Kind))
	c.queue = append(c.queue, ticket)
	queueDepth.Set(float64(len(c.queue)))

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return ticket, nil
}

// Cancel removes a queued request from the wait list without side effects.
//
// Active requests cannot be cancelled; they run to completion or failure.
// Returns ErrNotQueued if the ID is unknown or already started.
func (c *Coordinator) Cancel(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, t := range c.queue {
		if t.Request.ID != id {
			continue
		}
		c.queue = append(c.queue[:i], c.queue[i+1:]...)
		queueDepth.Set(float64(len(c.queue)))
		c.clearStateLocked(t)
		t.done <- Result{Err: context.Canceled}
		return nil
	}
	return ErrNotQueued
}

// StateOf returns the current operation state for a function key.
func (c *Coordinator) StateOf(sourceFile, functionName string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[registry.Key(sourceFile, functionName)]; ok {
		return s
	}
	return StateIdle
}

// Snapshot describes the queue for diagnostics and the /queue endpoint.
type Snapshot struct {
	Active *Request  `json:"active,omitempty"`
	Queued []Request `json:"queued"`
}

// QueueSnapshot returns the active request and the queued requests in FIFO
// order.
func (c *Coordinator) QueueSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{Queued: make([]Request, 0, len(c.queue))}
	if c.active != nil {
		req := c.active.Request
		snap.Active = &req
	}
	for _, t := range c.queue {
		snap.Queued = append(snap.Queued, t.Request)
	}
	return snap
}

// Close stops the worker and fails all still-queued requests with ErrClosed.
// The active operation, if any, runs to completion first.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	<-c.done
}

// work is the single worker goroutine: pop head, execute, repeat.
func (c *Coordinator) work() {
	defer close(c.done)

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.stop:
				c.drain()
				return
			}
		}

		ticket := c.queue[0]
		c.queue = c.queue[1:]
		queueDepth.Set(float64(len(c.queue)))
		c.active = ticket
		c.mu.Unlock()

		c.execute(ticket)

		c.mu.Lock()
		c.active = nil
		stopped := c.closed
		c.mu.Unlock()
		if stopped {
			c.drain()
			return
		}
	}
}

// drain fails every still-queued ticket with ErrClosed.
func (c *Coordinator) drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.queue {
		c.clearStateLocked(t)
		t.done <- Result{Err: ErrClosed}
	}
	c.queue = nil
	queueDepth.Set(0)
}

// execute runs one ticket to completion. Every path back out of this method
// clears the function's state — including panics from the operations
// collaborator, so an internal failure never leaves a function stuck in a
// non-idle state.
func (c *Coordinator) execute(ticket *Ticket) {
	req := ticket.Request
	start := time.Now()
	status := "success"

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			c.logger.Error("panic in coordinator operation recovered",
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])))
			c.mu.Lock()
			c.clearStateLocked(ticket)
			c.mu.Unlock()
			status = "panic"
			ticket.done <- Result{Err: fmt.Errorf("internal error in %s operation", req.Kind)}
		}
		operationsTotal.WithLabelValues(string(req.Kind), status).Inc()
		operationDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())
	}()

	// Operations are not cancellable once started; timeouts are the
	// collaborators' own contract.
	ctx := context.Background()

	var res Result
	switch req.Kind {
	case KindGenerate:
		res = c.executeGenerate(ctx, ticket)
	case KindRun:
		res = c.executeRun(ctx, ticket)
	default:
		res = Result{Err: fmt.Errorf("unknown request kind %q", req.Kind)}
	}

	c.mu.Lock()
	c.clearStateLocked(ticket)
	c.mu.Unlock()

	if res.Err != nil {
		status = "error"
		c.logger.Warn("operation failed",
			slog.String("kind", string(req.Kind)),
			slog.String("function", req.FunctionName),
			slog.String("error", res.Err.Error()))
	}
	ticket.done <- res
}

// executeGenerate drives generating → idle.
func (c *Coordinator) executeGenerate(ctx context.Context, ticket *Ticket) Result {
	c.setState(ticket, StateGenerating)
	outcome, err := c.ops.Generate(ctx, ticket.Request)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Generate: outcome}
}

// executeRun drives idle → running, inserting the generate sub-flow
// (generating → idle → running) when no runnable binding exists yet.
func (c *Coordinator) executeRun(ctx context.Context, ticket *Ticket) Result {
	req := ticket.Request

	var generated *GenerateOutcome
	if !c.ops.HasTest(req.SourceFile, req.FunctionName) {
		c.setState(ticket, StateGenerating)
		outcome, err := c.ops.Generate(ctx, req)
		if err != nil {
			return Result{Err: err}
		}
		generated = outcome
		c.setState(ticket, StateIdle)
	}

	c.setState(ticket, StateRunning)
	outcome, err := c.ops.Run(ctx, req)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Generate: generated, Run: outcome}
}

// stateForKind maps a request kind to its acceptance state.
func stateForKind(kind Kind) State {
	if kind == KindRun {
		return StateRunning
	}
	return StateGenerating
}

// setState publishes a transition for the ticket's key.
func (c *Coordinator) setState(ticket *Ticket, state State) {
	c.mu.Lock()
	c.setStateLocked(ticket, state)
	c.mu.Unlock()
}

// setStateLocked records the state and emits an event. Caller holds c.mu.
// StateIdle is recorded explicitly here (not deleted) because mid-operation
// idle — the gap in the generate sub-flow — still reserves the key.
func (c *Coordinator) setStateLocked(ticket *Ticket, state State) {
	c.states[ticket.Request.key()] = state
	c.emitLocked(ticket, state)
}

// clearStateLocked releases the key entirely. Caller holds c.mu.
func (c *Coordinator) clearStateLocked(ticket *Ticket) {
	delete(c.states, ticket.Request.key())
	c.emitLocked(ticket, StateIdle)
}

// emitLocked invokes the notifier, if any.
func (c *Coordinator) emitLocked(ticket *Ticket, state State) {
	if c.notify == nil {
		return
	}
	c.notify(Event{
		RequestID:    ticket.Request.ID,
		SourceFile:   ticket.Request.SourceFile,
		FunctionName: ticket.Request.FunctionName,
		Kind:         ticket.Request.Kind,
		State:        state,
		At:           time.Now(),
	})
}
