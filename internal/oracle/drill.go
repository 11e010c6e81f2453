package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// ErrScratchSize is returned when a scratch buffer does not match the oracle.
var ErrScratchSize = errors.New("scratch buffer size mismatch")

const (
	// DefaultScratchWords gives 16 KiB of scratch per worker.
	DefaultScratchWords = 2048
	// DefaultMixRounds is the number of dependent scratch reads per candidate.
	DefaultMixRounds = 1024
	// DefaultMissMask rejects one nonce in eight.
	DefaultMissMask = 0x7

	golden = 0x9e3779b97f4a7c15
)

// DrillConfig tunes the default oracle.
type DrillConfig struct {
	ScratchWords int `yaml:"scratch_words"`
	MixRounds    int `yaml:"mix_rounds"`
	// MissMask of zero means every nonce has a solution.
	MissMask uint64 `yaml:"miss_mask"`
}

// Drill is the default memory-bound oracle.
//
// The challenge and nonce seed a blake2b state that fills the scratch buffer,
// a chain of data-dependent reads and writes mixes it, and the final
// accumulator yields a 16-byte digest D. Candidates whose accumulator has all
// MissMask bits clear have no solution. The scored hash is sha3-256(D || nonce).
type Drill struct {
	config DrillConfig
}

// NewDrill creates a Drill oracle, filling unset fields with defaults.
func NewDrill(config DrillConfig) (*Drill, error) {
	if config.ScratchWords == 0 {
		config.ScratchWords = DefaultScratchWords
	}
	if config.MixRounds == 0 {
		config.MixRounds = DefaultMixRounds
	}
	if config.ScratchWords < 8 || config.ScratchWords&(config.ScratchWords-1) != 0 {
		return nil, fmt.Errorf("scratch words must be a power of two >= 8, got %d", config.ScratchWords)
	}
	if config.MixRounds < 0 {
		return nil, fmt.Errorf("mix rounds cannot be negative: %d", config.MixRounds)
	}
	return &Drill{config: config}, nil
}

// DefaultDrill returns a Drill with default parameters.
func DefaultDrill() *Drill {
	return &Drill{config: DrillConfig{
		ScratchWords: DefaultScratchWords,
		MixRounds:    DefaultMixRounds,
		MissMask:     DefaultMissMask,
	}}
}

// Name implements Oracle.
func (d *Drill) Name() string { return "drill" }

// ScratchSize implements Oracle.
func (d *Drill) ScratchSize() int { return d.config.ScratchWords * 8 }

// NewScratch implements Oracle.
func (d *Drill) NewScratch() *Scratch { return NewScratch(d.config.ScratchWords) }

// Evaluate implements Oracle.
func (d *Drill) Evaluate(challenge [32]byte, nonce [8]byte, scratch *Scratch) (Solution, error) {
	if scratch == nil || scratch.Len() != d.config.ScratchWords {
		return Solution{}, ErrScratchSize
	}

	var input [40]byte
	copy(input[:32], challenge[:])
	copy(input[32:], nonce[:])
	seed := blake2b.Sum512(input[:])

	var state [8]uint64
	for i := range state {
		state[i] = binary.LittleEndian.Uint64(seed[i*8 : i*8+8])
	}

	// Fill
	w := scratch.words
	x := state[0] | 1
	for i := range w {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		w[i] = x ^ state[i&7]
	}

	// Mix
	mask := uint64(len(w) - 1)
	acc := state[1]
	for r := 0; r < d.config.MixRounds; r++ {
		idx := acc & mask
		v := w[idx]
		acc = bits.RotateLeft64(acc^v, 17)*golden + uint64(r)
		w[idx] = v ^ acc
	}

	if d.config.MissMask != 0 && acc&d.config.MissMask == 0 {
		return Solution{}, ErrNoSolution
	}

	h, err := blake2b.New(DigestSize, nil)
	if err != nil {
		return Solution{}, fmt.Errorf("digest init: %w", err)
	}
	var tail [24]byte
	binary.LittleEndian.PutUint64(tail[0:8], acc)
	binary.LittleEndian.PutUint64(tail[8:16], w[acc&mask])
	binary.LittleEndian.PutUint64(tail[16:24], state[2])
	h.Write(tail[:])

	var sol Solution
	copy(sol.D[:], h.Sum(nil))

	var scored [DigestSize + 8]byte
	copy(scored[:DigestSize], sol.D[:])
	copy(scored[DigestSize:], nonce[:])
	sol.H = sha3.Sum256(scored[:])

	return sol, nil
}
