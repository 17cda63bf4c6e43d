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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// ReplyBufferSize is the capacity of one reply accumulation buffer.
	// 512 KB holds roughly 131,000 tokens at 4 bytes per token, far beyond
	// any single assistant reply.
	//
	// Secure mode mlocks the whole buffer, so the system must allow at
	// least this much locked memory per in-flight stream.
	ReplyBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum RLIMIT_MEMLOCK required in kilobytes.
	MinMlockLimitKB = 512

	// insecureMemoryEnv opts into plain-memory accumulation on hosts where
	// the mlock limit cannot be raised.
	insecureMemoryEnv = "ALEUTIAN_INSECURE_MEMORY"
)

// =============================================================================
// Package Variables
// =============================================================================

var (
	// memguardInitOnce ensures memguard initialization happens only once.
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization to indicate whether
	// secure memory is available.
	mlockSufficient bool

	// currentMlockLimitKB stores the current mlock limit for logging.
	currentMlockLimitKB int64
)

// =============================================================================
// Interfaces
// =============================================================================

// ReplyAccumulator collects the assistant reply during streaming and
// tracks which prefix of it has already been durably persisted.
//
// # Description
//
// Text deltas are appended as they arrive and hashed incrementally. The
// pending window, everything after the last durable write, backs the
// threshold-driven create and append flushes: PendingWindow snapshots it
// and MarkPersisted advances past it only once the durable call has
// landed, so a failed flush leaves the window intact and the next flush
// retries with the superset of unflushed text.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use, though in practice a
// turn's analysis consumer is the only writer.
//
// # Security
//
// The secure implementation stores reply text in mlocked memory so
// customer conversations cannot be swapped to disk. Finalize and Destroy
// wipe the buffer.
//
// # Examples
//
//	acc, err := NewReplyAccumulator()
//	if err != nil {
//	    return err
//	}
//	defer acc.Destroy()
//
//	acc.Append("The export ")
//	acc.Append("finished.")
//	text, hash, _ := acc.Finalize()
//
// # Limitations
//
//   - Buffer capacity is fixed; an overflowing reply poisons the
//     accumulator for further appends.
//   - An accumulator cannot be reused after Finalize() or Destroy().
type ReplyAccumulator interface {
	// Append adds one text delta to the reply. The delta is hashed as it
	// arrives. Errors after overflow or destruction.
	Append(delta string) error

	// TotalChars returns the rune count of everything appended so far.
	TotalChars() int

	// PendingChars returns the rune count of the not-yet-persisted tail.
	PendingChars() int

	// Text returns a copy of the full accumulated reply.
	Text() (string, error)

	// PendingWindow snapshots the not-yet-persisted tail for a durable
	// write. Pass the snapshot to MarkPersisted once the write lands.
	PendingWindow() (PendingWindow, error)

	// MarkPersisted advances the durable boundary past the window. Stale
	// or repeated windows are ignored.
	MarkPersisted(w PendingWindow)

	// Finalize returns the complete reply and its SHA-256 hash (hex, 64
	// characters), then wipes the buffer. Can only be called once.
	Finalize() (text string, hash string, err error)

	// Destroy wipes the buffer without returning data. Safe to call
	// multiple times.
	Destroy()

	// ID returns a unique identifier for this accumulator instance.
	ID() string

	// CreatedAt returns when this accumulator was created.
	CreatedAt() time.Time
}

// PendingWindow is a snapshot of the unpersisted tail of the reply.
type PendingWindow struct {
	// Text is the window's content.
	Text string

	// Chars is the window's rune count.
	Chars int

	// End is the byte offset one past the window's last byte. Consumed
	// by MarkPersisted.
	End int
}

// =============================================================================
// Constructor Functions
// =============================================================================

// NewReplyAccumulator creates an accumulator for one streaming turn.
//
// # Description
//
// Allocates an mlocked buffer of ReplyBufferSize bytes. If the mlock
// limit is insufficient and ALEUTIAN_INSECURE_MEMORY is not set, returns
// an error; with ALEUTIAN_INSECURE_MEMORY=true it falls back to plain
// memory with a warning.
//
// # Outputs
//
//   - ReplyAccumulator: Ready for use (secure or insecure per system)
//   - error: Non-nil if allocation failed and no fallback is allowed
func NewReplyAccumulator() (ReplyAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		return handleInsufficientMlock()
	}

	return allocateSecureAccumulator()
}

// newInsecureReplyAccumulator creates the plain-memory fallback. Used
// when secure memory is unavailable and the operator has acknowledged
// the risk via ALEUTIAN_INSECURE_MEMORY.
func newInsecureReplyAccumulator() ReplyAccumulator {
	accID := uuid.New().String()

	slog.Warn("Created INSECURE reply accumulator - data may be swapped to disk",
		"accumulator_id", accID,
	)

	return &insecureReplyAccumulator{
		id:        accID,
		createdAt: time.Now(),
		data:      make([]byte, 0, ReplyBufferSize),
		hasher:    sha256.New(),
	}
}

// =============================================================================
// Structs: Secure Implementation
// =============================================================================

// secureReplyAccumulator stores the reply in mlocked memory with
// incremental hashing.
//
// Memory protections come from memguard's LockedBuffer: mlock against
// swapping, guard pages against overflow, canaries against underflow,
// and explicit zeroing on Destroy().
type secureReplyAccumulator struct {
	id        string
	createdAt time.Time

	mu             sync.Mutex
	buffer         *memguard.LockedBuffer
	offset         int
	persistedAt    int
	totalChars     int
	persistedChars int
	hasher         hash.Hash
	overflow       bool
	destroyed      bool
}

var _ ReplyAccumulator = (*secureReplyAccumulator)(nil)

// Append implements ReplyAccumulator. Deltas are hashed immediately as
// they arrive, never sitting unhashed.
func (a *secureReplyAccumulator) Append(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.validateAppendState(); err != nil {
		return err
	}

	deltaBytes := []byte(delta)
	if a.offset+len(deltaBytes) > ReplyBufferSize {
		a.overflow = true
		return fmt.Errorf("reply buffer overflow: need %d bytes, have %d remaining",
			len(deltaBytes), ReplyBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], deltaBytes)
	a.offset += len(deltaBytes)
	a.totalChars += utf8.RuneCountInString(delta)
	a.hasher.Write(deltaBytes)
	return nil
}

// TotalChars implements ReplyAccumulator.
func (a *secureReplyAccumulator) TotalChars() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalChars
}

// PendingChars implements ReplyAccumulator.
func (a *secureReplyAccumulator) PendingChars() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalChars - a.persistedChars
}

// Text implements ReplyAccumulator. The returned string is a copy living
// outside secure memory; the caller holds it only as long as needed.
func (a *secureReplyAccumulator) Text() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", fmt.Errorf("accumulator already destroyed")
	}
	return string(a.buffer.Bytes()[:a.offset]), nil
}

// PendingWindow implements ReplyAccumulator.
func (a *secureReplyAccumulator) PendingWindow() (PendingWindow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return PendingWindow{}, fmt.Errorf("accumulator already destroyed")
	}
	return PendingWindow{
		Text:  string(a.buffer.Bytes()[a.persistedAt:a.offset]),
		Chars: a.totalChars - a.persistedChars,
		End:   a.offset,
	}, nil
}

// MarkPersisted implements ReplyAccumulator.
func (a *secureReplyAccumulator) MarkPersisted(w PendingWindow) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed || w.End <= a.persistedAt {
		return
	}
	a.persistedAt = w.End
	a.persistedChars += w.Chars
}

// Finalize implements ReplyAccumulator.
func (a *secureReplyAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	text := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized reply accumulator",
		"accumulator_id", a.id,
		"reply_length", len(text),
		"hash", hashStr[:16]+"...",
	)
	return text, hashStr, nil
}

// Destroy implements ReplyAccumulator.
func (a *secureReplyAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("Destroyed reply accumulator", "accumulator_id", a.id)
}

// ID implements ReplyAccumulator.
func (a *secureReplyAccumulator) ID() string { return a.id }

// CreatedAt implements ReplyAccumulator.
func (a *secureReplyAccumulator) CreatedAt() time.Time { return a.createdAt }

func (a *secureReplyAccumulator) validateAppendState() error {
	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("reply buffer overflow - response too large")
	}
	return nil
}

// wipe destroys the secure buffer and marks the accumulator unusable.
// Callers hold the mutex.
func (a *secureReplyAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// Structs: Insecure Fallback Implementation
// =============================================================================

// insecureReplyAccumulator is the fallback for systems without usable
// mlock. Same contract on an ordinary byte slice: data may be swapped to
// disk and wiping is best-effort under the garbage collector.
type insecureReplyAccumulator struct {
	id        string
	createdAt time.Time

	mu             sync.Mutex
	data           []byte
	persistedAt    int
	totalChars     int
	persistedChars int
	hasher         hash.Hash
	overflow       bool
	destroyed      bool
}

var _ ReplyAccumulator = (*insecureReplyAccumulator)(nil)

// Append implements ReplyAccumulator.
func (a *insecureReplyAccumulator) Append(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("reply buffer overflow - response too large")
	}

	deltaBytes := []byte(delta)
	if len(a.data)+len(deltaBytes) > ReplyBufferSize {
		a.overflow = true
		return fmt.Errorf("reply buffer overflow: need %d bytes, have %d remaining",
			len(deltaBytes), ReplyBufferSize-len(a.data))
	}

	a.data = append(a.data, deltaBytes...)
	a.totalChars += utf8.RuneCountInString(delta)
	a.hasher.Write(deltaBytes)
	return nil
}

// TotalChars implements ReplyAccumulator.
func (a *insecureReplyAccumulator) TotalChars() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalChars
}

// PendingChars implements ReplyAccumulator.
func (a *insecureReplyAccumulator) PendingChars() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalChars - a.persistedChars
}

// Text implements ReplyAccumulator.
func (a *insecureReplyAccumulator) Text() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", fmt.Errorf("accumulator already destroyed")
	}
	return string(a.data), nil
}

// PendingWindow implements ReplyAccumulator.
func (a *insecureReplyAccumulator) PendingWindow() (PendingWindow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return PendingWindow{}, fmt.Errorf("accumulator already destroyed")
	}
	return PendingWindow{
		Text:  string(a.data[a.persistedAt:]),
		Chars: a.totalChars - a.persistedChars,
		End:   len(a.data),
	}, nil
}

// MarkPersisted implements ReplyAccumulator.
func (a *insecureReplyAccumulator) MarkPersisted(w PendingWindow) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed || w.End <= a.persistedAt {
		return
	}
	a.persistedAt = w.End
	a.persistedChars += w.Chars
}

// Finalize implements ReplyAccumulator.
func (a *insecureReplyAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	text := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized insecure reply accumulator",
		"accumulator_id", a.id,
		"reply_length", len(text),
	)
	return text, hashStr, nil
}

// Destroy implements ReplyAccumulator.
func (a *insecureReplyAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("Destroyed insecure reply accumulator", "accumulator_id", a.id)
}

// ID implements ReplyAccumulator.
func (a *insecureReplyAccumulator) ID() string { return a.id }

// CreatedAt implements ReplyAccumulator.
func (a *insecureReplyAccumulator) CreatedAt() time.Time { return a.createdAt }

// wipe zeros the data slice (best effort). Callers hold the mutex.
func (a *insecureReplyAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Package Initialization Functions
// =============================================================================

// initMemguard performs one-time initialization of memguard and checks
// the system's mlock limit. Called automatically by the constructor.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		logMlockStatus()
	})
}

// checkMlockLimit queries the kernel for the RLIMIT_MEMLOCK soft limit
// and compares it against the minimum required for secure accumulation.
// Returns whether the limit suffices and the limit in kilobytes (-1 when
// unlimited or unknown).
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// logMlockStatus logs the outcome of the mlock limit check.
func logMlockStatus() {
	if mlockSufficient {
		slog.Info("Secure memory initialized",
			"mlock_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"status", "sufficient",
		)
		return
	}

	if os.Getenv(insecureMemoryEnv) == "true" {
		slog.Warn("SECURITY: Running with insecure memory - mlock limit insufficient",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", insecureMemoryEnv+"=true",
		)
	} else {
		slog.Error("mlock limit insufficient for secure memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"help", "Raise RLIMIT_MEMLOCK or set "+insecureMemoryEnv+"=true",
		)
	}
}

// handleInsufficientMlock falls back to insecure accumulation when the
// operator has opted in, otherwise fails the turn before streaming.
func handleInsufficientMlock() (ReplyAccumulator, error) {
	if os.Getenv(insecureMemoryEnv) == "true" {
		slog.Warn("Using insecure reply accumulator due to mlock limits",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
		return newInsecureReplyAccumulator(), nil
	}
	return nil, fmt.Errorf(
		"mlock limit insufficient: have %d KB, need %d KB. "+
			"Configure system limits or set %s=true",
		currentMlockLimitKB, MinMlockLimitKB, insecureMemoryEnv,
	)
}

// allocateSecureAccumulator allocates a fresh mlocked buffer.
func allocateSecureAccumulator() (ReplyAccumulator, error) {
	buf := memguard.NewBuffer(ReplyBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", ReplyBufferSize)
	}
	buf.Melt()

	accID := uuid.New().String()

	slog.Debug("Created secure reply accumulator",
		"accumulator_id", accID,
		"buffer_size", ReplyBufferSize,
	)

	return &secureReplyAccumulator{
		id:        accID,
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

// =============================================================================
// Utility Functions
// =============================================================================

// IsMlockAvailable reports whether secure memory is available on this
// system and the current mlock limit in KB (-1 if unlimited).
func IsMlockAvailable() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Called during
// graceful shutdown so no reply text outlives the process.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
