package oracle

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/mr-tron/base58"
)

// ErrNoSolution is returned when a nonce has no valid solution for a challenge.
// Callers are expected to skip the nonce.
var ErrNoSolution = errors.New("no solution for nonce")

// DigestSize is the length of the raw proof digest carried by a Solution.
const DigestSize = 16

// Solution is a candidate proof for one (challenge, nonce) pair.
type Solution struct {
	// D is the raw proof digest.
	D [DigestSize]byte
	// H is the hash the difficulty is scored on.
	H [32]byte
}

// Difficulty returns the number of leading zero bits of the solution hash.
func (s Solution) Difficulty() uint32 {
	var zeros uint32
	for i := 0; i < len(s.H); i += 8 {
		word := binary.BigEndian.Uint64(s.H[i : i+8])
		if word != 0 {
			return zeros + uint32(bits.LeadingZeros64(word))
		}
		zeros += 64
	}
	return zeros
}

// IsZero reports whether the solution is the zero value.
func (s Solution) IsZero() bool {
	return s == Solution{}
}

// HashString returns the base58 encoding of the solution hash.
func (s Solution) HashString() string {
	return base58.Encode(s.H[:])
}

// Oracle evaluates proof-of-work candidates.
//
// Evaluate must only touch the scratch passed to it, so that concurrent calls
// with distinct scratch buffers are safe. A scratch buffer must never be used
// by two goroutines at once.
type Oracle interface {
	// Name identifies the oracle in logs and status output.
	Name() string
	// ScratchSize is the number of bytes one scratch buffer holds.
	ScratchSize() int
	// NewScratch allocates a scratch buffer for exclusive use by one worker.
	NewScratch() *Scratch
	// Evaluate produces the solution for challenge and nonce, or ErrNoSolution.
	Evaluate(challenge [32]byte, nonce [8]byte, scratch *Scratch) (Solution, error)
}

// Scratch is per-worker mutable memory used while evaluating candidates.
type Scratch struct {
	words []uint64
}

// NewScratch allocates a scratch buffer of n 64-bit words.
func NewScratch(n int) *Scratch {
	return &Scratch{words: make([]uint64, n)}
}

// Len returns the number of words in the buffer.
func (s *Scratch) Len() int {
	return len(s.words)
}

// NonceBytes encodes a nonce the way oracles consume it (little endian).
func NonceBytes(nonce uint64) [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], nonce)
	return b
}
