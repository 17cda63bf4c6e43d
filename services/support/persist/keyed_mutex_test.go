// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persist

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionLocks_SerializesSameSession(t *testing.T) {
	locks := NewSessionLocks()

	var inCritical int32
	var violations int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Acquire("session-1")
			defer release()

			if atomic.AddInt32(&inCritical, 1) != 1 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inCritical, -1)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&violations))
	assert.Zero(t, locks.active())
}

func TestSessionLocks_IndependentSessionsDoNotBlock(t *testing.T) {
	locks := NewSessionLocks()

	releaseA := locks.Acquire("session-a")
	defer releaseA()

	start := time.Now()
	releaseB := locks.Acquire("session-b")
	releaseB()

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSessionLocks_EntryRemovedAfterLastRelease(t *testing.T) {
	locks := NewSessionLocks()

	release := locks.Acquire("session-1")
	assert.Equal(t, 1, locks.active())

	release()
	assert.Zero(t, locks.active())
}

func TestSessionLocks_DoubleReleaseIsANoOp(t *testing.T) {
	locks := NewSessionLocks()

	release := locks.Acquire("session-1")
	release()
	release()

	done := make(chan struct{})
	go func() {
		r := locks.Acquire("session-1")
		r()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session lock not reacquirable after double release")
	}
}

func TestSessionLocks_WaiterProceedsAfterRelease(t *testing.T) {
	locks := NewSessionLocks()
	release := locks.Acquire("session-1")

	acquired := make(chan struct{})
	go func() {
		r := locks.Acquire("session-1")
		r()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}

	assert.Zero(t, locks.active())
}
