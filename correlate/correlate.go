// correlate.go - Request/response correlation.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package correlate matches asynchronous, possibly-never-arriving reply
// rumors to previously issued outbound request ids under a deadline.
package correlate

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/tavolo/tavolo/core/log"
	"github.com/tavolo/tavolo/core/worker"
	"github.com/tavolo/tavolo/giftwrap"
	"github.com/tavolo/tavolo/internal/instrument"
)

// ReferenceTag is the tag name a reply rumor uses to point at the request
// id it answers.
const ReferenceTag = "e"

var (
	// ErrAlreadyWaiting is returned when a wait is registered for a
	// request id that already has a pending entry.
	ErrAlreadyWaiting = errors.New("correlate: already waiting for this request id")

	// ErrTimeout is returned when no matching reply arrives before the
	// deadline.
	ErrTimeout = errors.New("correlate: timeout waiting for response")

	// ErrCancelled is returned when a pending wait is cancelled.
	ErrCancelled = errors.New("correlate: wait cancelled")
)

type waitResult struct {
	rumor *giftwrap.Rumor
	err   error
}

// pendingRequest is one registered wait.
type pendingRequest struct {
	id        string
	deadline  time.Time
	createdAt time.Time
	doneCh    chan waitResult
	index     int // heap index, -1 once removed
}

// PendingReply is the caller's handle on a registered wait.
type PendingReply struct {
	c *Correlator
	p *pendingRequest
}

// Wait blocks until the wait resolves: the matching rumor, ErrTimeout, or
// ErrCancelled.  Exactly one of the three happens per registration.
func (r *PendingReply) Wait() (*giftwrap.Rumor, error) {
	select {
	case res := <-r.p.doneCh:
		return res.rumor, res.err
	case <-r.c.HaltCh():
		return nil, ErrCancelled
	}
}

// Correlator owns the pending-request table.  All table mutation is
// serialized under one lock; deadlines are driven by a single timer worker
// over a min-heap of pending deadlines.
type Correlator struct {
	worker.Worker

	log *logging.Logger

	lock      sync.Mutex
	pending   map[string]*pendingRequest
	deadlines deadlineHeap
	wakeCh    chan struct{}
}

// NewCorrelator constructs a Correlator and starts its timer worker.
func NewCorrelator(logBackend *log.Backend) *Correlator {
	c := &Correlator{
		log:     logBackend.GetLogger("correlate"),
		pending: make(map[string]*pendingRequest),
		wakeCh:  make(chan struct{}, 1),
	}
	c.Go(c.timerWorker)
	return c
}

// Register creates a deadline-bound wait for a reply to requestID.  It fails
// immediately with ErrAlreadyWaiting if a wait is already pending; the first
// registration is not altered.
func (c *Correlator) Register(requestID string, timeout time.Duration) (*PendingReply, error) {
	now := time.Now()
	p := &pendingRequest{
		id:        requestID,
		deadline:  now.Add(timeout),
		createdAt: now,
		doneCh:    make(chan waitResult, 1),
	}

	c.lock.Lock()
	if _, exists := c.pending[requestID]; exists {
		c.lock.Unlock()
		return nil, ErrAlreadyWaiting
	}
	c.pending[requestID] = p
	heap.Push(&c.deadlines, p)
	c.lock.Unlock()

	c.wake()
	return &PendingReply{c: c, p: p}, nil
}

// WaitForResponse registers a wait for requestID and blocks on it.
func (c *Correlator) WaitForResponse(requestID string, timeout time.Duration) (*giftwrap.Rumor, error) {
	reply, err := c.Register(requestID, timeout)
	if err != nil {
		return nil, err
	}
	return reply.Wait()
}

// HandleRumor inspects rumor for a reference tag pointing at a pending
// request id and, if one is pending, resolves it.  Returns false without
// side effects when the rumor is not a response or nothing is waiting;
// duplicate deliveries of the same reply land here.
func (c *Correlator) HandleRumor(rumor *giftwrap.Rumor) bool {
	ref := rumor.Tags.First(ReferenceTag)
	if ref == nil || ref.Value() == "" {
		return false
	}
	return c.resolve(ref.Value(), waitResult{rumor: rumor})
}

// Cancel rejects the pending wait for requestID with ErrCancelled.  Returns
// false if nothing is pending.
func (c *Correlator) Cancel(requestID string) bool {
	return c.resolve(requestID, waitResult{err: ErrCancelled})
}

// CancelAll rejects every pending wait with ErrCancelled; used at shutdown.
func (c *Correlator) CancelAll() {
	c.lock.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.lock.Unlock()
	for _, id := range ids {
		c.Cancel(id)
	}
}

// Stop cancels all pending waits and halts the timer worker.
func (c *Correlator) Stop() {
	c.CancelAll()
	c.Halt()
}

// resolve removes the pending entry for id, if any, and delivers res to its
// waiter.  The removal under lock guarantees exactly one resolution per
// registration; once resolved the id is free for reuse.
func (c *Correlator) resolve(id string, res waitResult) bool {
	c.lock.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.lock.Unlock()
		return false
	}
	c.removeLocked(p)
	c.lock.Unlock()

	p.doneCh <- res
	c.wake()
	return true
}

// resolveEntry resolves p only if it is still the pending entry for its id.
// Expiry must use this, not resolve: between reading the heap head and
// delivering the timeout, the id may have been matched and re-registered,
// and the fresh entry must not inherit the stale deadline.
func (c *Correlator) resolveEntry(p *pendingRequest, res waitResult) bool {
	c.lock.Lock()
	if c.pending[p.id] != p {
		c.lock.Unlock()
		return false
	}
	c.removeLocked(p)
	c.lock.Unlock()

	p.doneCh <- res
	c.wake()
	return true
}

func (c *Correlator) removeLocked(p *pendingRequest) {
	delete(c.pending, p.id)
	if p.index >= 0 {
		heap.Remove(&c.deadlines, p.index)
	}
}

func (c *Correlator) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// timerWorker fires deadline expirations for the earliest pending entry.
func (c *Correlator) timerWorker() {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		c.lock.Lock()
		var wait time.Duration
		hasNext := c.deadlines.Len() > 0
		if hasNext {
			wait = time.Until(c.deadlines[0].deadline)
		}
		c.lock.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		var timerCh <-chan time.Time
		if hasNext {
			timer.Reset(wait)
			timerCh = timer.C
		}

		select {
		case <-c.HaltCh():
			return
		case <-c.wakeCh:
		case <-timerCh:
			c.expireDue()
		}
	}
}

func (c *Correlator) expireDue() {
	now := time.Now()
	for {
		c.lock.Lock()
		if c.deadlines.Len() == 0 || c.deadlines[0].deadline.After(now) {
			c.lock.Unlock()
			return
		}
		p := c.deadlines[0]
		c.lock.Unlock()

		if c.resolveEntry(p, waitResult{err: ErrTimeout}) {
			instrument.CorrelationTimeout()
			c.log.Debugf("Request %s timed out after %v", p.id, now.Sub(p.createdAt))
		}
	}
}
