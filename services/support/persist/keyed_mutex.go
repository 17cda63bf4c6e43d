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

import "sync"

// SessionLocks serializes durable writes per session so a turn's create
// call is observed before any of its append calls, and two concurrent
// turns on the same session cannot interleave their writes.
//
// Locks are keyed by session id: unrelated sessions never wait on each
// other. An entry exists only while someone holds or waits for it, so
// the map does not grow with session count.
//
// # Examples
//
//	release := locks.Acquire(sessionID)
//	defer release()
//	// durable write
//
// # Thread Safety
//
// Safe for concurrent use from any number of goroutines.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewSessionLocks creates an empty lock map.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

// Acquire blocks until this session's lock is held and returns the
// release function. Releasing more than once is a no-op.
func (s *SessionLocks) Acquire(sessionID string) (release func()) {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, sessionID)
			}
			s.mu.Unlock()
		})
	}
}

// active returns the number of live lock entries. Test hook.
func (s *SessionLocks) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
