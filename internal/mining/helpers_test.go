package mining

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/oracle"
	"go.uber.org/zap/zaptest"
)

// fakeOracle scores nonces with a caller supplied function.
type fakeOracle struct {
	score func(nonce uint64) (uint32, error)
	delay time.Duration

	mu       sync.Mutex
	observed []uint32
}

func (f *fakeOracle) Name() string { return "fake" }

func (f *fakeOracle) ScratchSize() int { return 64 }

func (f *fakeOracle) NewScratch() *oracle.Scratch { return oracle.NewScratch(8) }

func (f *fakeOracle) Evaluate(challenge [32]byte, nonce [8]byte, scratch *oracle.Scratch) (oracle.Solution, error) {
	if scratch == nil {
		return oracle.Solution{}, errors.New("nil scratch")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	n := uint64(0)
	for i := 7; i >= 0; i-- {
		n = n<<8 | uint64(nonce[i])
	}
	d, err := f.score(n)
	if err != nil {
		return oracle.Solution{}, err
	}

	f.mu.Lock()
	f.observed = append(f.observed, d)
	f.mu.Unlock()

	return solutionWithDifficulty(d, n), nil
}

func (f *fakeOracle) maxObserved() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best uint32
	for _, d := range f.observed {
		if d > best {
			best = d
		}
	}
	return best
}

// solutionWithDifficulty builds a solution whose hash has exactly d leading zero bits.
func solutionWithDifficulty(d uint32, nonce uint64) oracle.Solution {
	var sol oracle.Solution
	if d < 256 {
		sol.H[d/8] = 0x80 >> (d % 8)
	}
	sol.D[0] = byte(nonce)
	sol.D[1] = byte(nonce >> 8)
	return sol
}

func constantScore(d uint32) func(uint64) (uint32, error) {
	return func(uint64) (uint32, error) { return d, nil }
}

func newTestPool(t *testing.T, o oracle.Oracle, mutate func(*Config)) *Pool {
	t.Helper()
	config := DefaultConfig()
	config.Selection = SelectionSequential
	config.BatchSize = 16
	if mutate != nil {
		mutate(&config)
	}
	return NewPool(zaptest.NewLogger(t), o, config)
}
