// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream fans one generation event stream out to independent
// consumers.
//
// A streaming chat turn has two consumers with very different pacing:
// the forwarder writes frames to the client as fast as they arrive,
// while the analysis consumer does durable writes with network latency.
// The Tee gives each consumer its own unbounded queue of the same
// events, so a stalled consumer can never slow the generator or starve
// the other consumer.
package stream

import (
	"context"
	"io"
	"sync"

	"github.com/AleutianAI/AleutianSupport/services/llm"
)

// =============================================================================
// Tee
// =============================================================================

// Tee broadcasts generation events to a fixed set of branches.
//
// # Description
//
// The generator goroutine calls Publish for every event and Close
// exactly once when generation ends. Each branch buffers every
// published event until its consumer reads it; consumers observe the
// events in publication order. Events are shared values and must be
// treated as read-only by consumers.
//
// # Thread Safety
//
// Publish and Close may be called from one goroutine while any number
// of consumers call Next concurrently.
type Tee struct {
	branches []*Branch

	mu     sync.Mutex
	closed bool
}

// NewTee creates a Tee with n branches.
func NewTee(n int) *Tee {
	t := &Tee{branches: make([]*Branch, n)}
	for i := range t.branches {
		t.branches[i] = &Branch{wake: make(chan struct{}, 1)}
	}
	return t
}

// Branch returns branch i. Branches are fixed at construction.
func (t *Tee) Branch(i int) *Branch {
	return t.branches[i]
}

// Publish appends an event to every branch. Events published after
// Close are dropped.
func (t *Tee) Publish(ev llm.StreamEvent) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	for _, b := range t.branches {
		b.push(ev)
	}
}

// Close ends the stream on every branch.
//
// Consumers still receive every event published before Close; after
// draining, Next returns err, or io.EOF when err is nil. Close is
// idempotent; only the first call's error is kept.
func (t *Tee) Close(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	for _, b := range t.branches {
		b.close(err)
	}
}

// =============================================================================
// Branch
// =============================================================================

// Branch is one consumer's view of the event stream.
type Branch struct {
	mu     sync.Mutex
	queue  []llm.StreamEvent
	closed bool
	err    error

	// wake signals a blocked Next that the state changed. One slot is
	// enough: Next re-checks the state in a loop after every signal.
	wake chan struct{}
}

func (b *Branch) push(ev llm.StreamEvent) {
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	b.signal()
}

func (b *Branch) close(err error) {
	b.mu.Lock()
	b.closed = true
	b.err = err
	b.mu.Unlock()
	b.signal()
}

func (b *Branch) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Next returns the next event for this branch.
//
// Blocks until an event is available, the stream ends, or ctx is done.
// After the stream ends and the queue drains, returns the Close error,
// or io.EOF for a clean end.
func (b *Branch) Next(ctx context.Context) (llm.StreamEvent, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			ev := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return ev, nil
		}
		if b.closed {
			err := b.err
			b.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return llm.StreamEvent{}, err
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return llm.StreamEvent{}, ctx.Err()
		case <-b.wake:
		}
	}
}

// Pending reports how many events are buffered and unread.
func (b *Branch) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
