// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides user experience components for the Aleutian Support CLI.
//
// This file contains hash-chain verification for streamed chat frames.
//
// Every frame the support service sends carries an id, a created-at
// timestamp, a SHA-256 hash of its own serialized content, and the hash
// of the previous frame:
//
//	Frame[0] → Frame[1] → Frame[2] → ... → Frame[N]
//	  Hash₀     Hash₁     Hash₂            HashN
//	    ↑         ↑         ↑                ↑
//	    └─────────┴─────────┴────────────────┘
//	        Each PrevHash links to the previous Hash
//
// The verifier replays the chain: it recomputes each frame's hash with
// the Hash field cleared, then checks the prev-hash linkage. A tampered,
// dropped, reordered, or injected frame breaks the chain at a specific
// index, giving chain of custody over the exact deltas and annotations
// the client received.
package ux

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianSupport/services/support/datatypes"
)

// =============================================================================
// Hash Computation
// =============================================================================

// secureHashEqual compares two hash strings in constant time to avoid
// leaking the match position through timing.
func secureHashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// FrameHashComputer computes content hashes for stream frames.
type FrameHashComputer interface {
	// ComputeFrameHash returns the hex SHA-256 of the frame serialized
	// with its Hash field empty. This matches the value the server
	// stamps at send time, so a received frame verifies by clearing
	// Hash and re-serializing.
	ComputeFrameHash(frame datatypes.StreamFrame) (string, error)
}

// sha256FrameHasher is the production hash computer.
type sha256FrameHasher struct{}

// NewFrameHashComputer creates the SHA-256 frame hasher.
func NewFrameHashComputer() FrameHashComputer {
	return sha256FrameHasher{}
}

// ComputeFrameHash implements FrameHashComputer. The frame is passed by
// value, so clearing Hash never mutates the caller's copy.
func (sha256FrameHasher) ComputeFrameHash(frame datatypes.StreamFrame) (string, error) {
	frame.Hash = ""
	payload, err := json.Marshal(frame)
	if err != nil {
		return "", fmt.Errorf("marshal frame for hashing: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// =============================================================================
// Chain Verification
// =============================================================================

// ChainVerificationResult reports the outcome of verifying a frame chain.
//
// When Valid is false, InvalidFrameIndex points at the first frame that
// failed, ExpectedHash/ActualHash hold the mismatching values, and
// ErrorMessage describes the failure. When Valid is true the index is -1
// and FinalHash is the last frame's hash.
type ChainVerificationResult struct {
	Valid             bool
	ChainLength       int
	FinalHash         string
	InvalidFrameIndex int
	ExpectedHash      string
	ActualHash        string
	ErrorMessage      string
}

// ChainVerifier validates the hash chain over a streamed frame sequence.
//
// Implementations must be safe for concurrent use; verification is pure
// computation over the input slice.
type ChainVerifier interface {
	// Verify checks every frame's content hash and the prev-hash
	// linkage, in order. An empty slice is a valid chain of length zero.
	Verify(frames []datatypes.StreamFrame) *ChainVerificationResult
}

// frameChainVerifier is the production verifier.
type frameChainVerifier struct {
	hasher FrameHashComputer
}

// NewChainVerifier creates a verifier backed by the SHA-256 frame hasher.
func NewChainVerifier() ChainVerifier {
	return &frameChainVerifier{hasher: NewFrameHashComputer()}
}

// Verify implements ChainVerifier.
//
// The first frame must carry an empty PrevHash, each subsequent frame's
// PrevHash must equal the previous frame's Hash, and every frame's Hash
// must match the recomputed content hash. Verification stops at the
// first failure.
func (v *frameChainVerifier) Verify(frames []datatypes.StreamFrame) *ChainVerificationResult {
	result := &ChainVerificationResult{
		Valid:             true,
		ChainLength:       len(frames),
		InvalidFrameIndex: -1,
	}

	prevHash := ""
	for i, frame := range frames {
		if frame.Hash == "" {
			return chainFailure(result, i, "", "", "frame missing hash")
		}
		if frame.PrevHash != prevHash {
			return chainFailure(result, i, prevHash, frame.PrevHash, "previous-hash link mismatch")
		}

		computed, err := v.hasher.ComputeFrameHash(frame)
		if err != nil {
			return chainFailure(result, i, "", frame.Hash, err.Error())
		}
		if !secureHashEqual(computed, frame.Hash) {
			return chainFailure(result, i, computed, frame.Hash, "content hash mismatch")
		}

		prevHash = frame.Hash
	}

	result.FinalHash = prevHash
	return result
}

// chainFailure marks the result invalid at the given frame index.
func chainFailure(result *ChainVerificationResult, index int, expected, actual, msg string) *ChainVerificationResult {
	result.Valid = false
	result.InvalidFrameIndex = index
	result.ExpectedHash = expected
	result.ActualHash = actual
	result.ErrorMessage = fmt.Sprintf("frame %d: %s", index, msg)
	return result
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var (
	_ FrameHashComputer = sha256FrameHasher{}
	_ ChainVerifier     = (*frameChainVerifier)(nil)
)
