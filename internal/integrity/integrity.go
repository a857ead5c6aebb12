// Package integrity provides tamper-evident hashing and Merkle tree
// construction for run transcripts. All functions are pure and deterministic,
// so a digest recomputed from a stored transcript always matches the digest
// computed when the turns were appended.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/model"
)

// DigestAlgorithm names the transcript digest scheme. Bump when the leaf
// encoding or tree construction changes.
const DigestAlgorithm = "sha256-merkle-v1"

// ComputeTurnHash produces a SHA-256 hex digest over the canonical fields of
// a turn. Each field is encoded with a 4-byte big-endian length prefix, so
// freeform content can never collide across field boundaries.
func ComputeTurnHash(runID uuid.UUID, seq int64, agentRole, content string, feedbackID *uuid.UUID) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // field lengths are bounded by HTTP request body limits
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(runID.String())
	writeField(strconv.FormatInt(seq, 10))
	writeField(agentRole)
	writeField(content)
	fb := ""
	if feedbackID != nil {
		fb = feedbackID.String()
	}
	writeField(fb)
	return hex.EncodeToString(h.Sum(nil))
}

// TranscriptDigest computes the Merkle root over a run's turns in seq order.
// Turns must already be ordered by seq ascending, which is how every store
// returns them. Returns "" for an empty transcript.
func TranscriptDigest(turns []model.Turn) string {
	leaves := make([]string, len(turns))
	for i, turn := range turns {
		leaves[i] = ComputeTurnHash(turn.RunID, turn.Seq, turn.AgentRole, turn.Content, turn.FeedbackID)
	}
	return BuildMerkleRoot(leaves)
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string.
// The 0x01 prefix is a domain separator for internal Merkle tree nodes (per
// RFC 6962), so internal node hashes can never collide with leaf hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01}) // internal node domain separator
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the
// root. Leaf order is significant: transcripts hash in seq order.
// If leaves is empty, returns an empty string.
// If leaves has one element, the root is that element.
// Odd-length levels hash the last node with itself for structural binding.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}
