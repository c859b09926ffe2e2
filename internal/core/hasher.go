package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "LendLedger:genesis:v1"

// StateHasher chains state digests: hash[N] = SHA-256(hash[N-1] || N || digest[N]).
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

// GenesisHash is the chain's starting tip.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash advances the chain by one sequence.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns the current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the tip, e.g. after loading a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}
