package mining

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		name            string
		start, end      uint64
		threads         uint64
		assignRemainder bool
		want            []WorkerAssignment
	}{
		{
			name: "even split", start: 0, end: 1000, threads: 4,
			want: []WorkerAssignment{
				{Index: 0, Start: 0, End: 250},
				{Index: 1, Start: 250, End: 500},
				{Index: 2, Start: 500, End: 750},
				{Index: 3, Start: 750, End: 1000},
			},
		},
		{
			name: "remainder dropped", start: 10, end: 17, threads: 3,
			want: []WorkerAssignment{
				{Index: 0, Start: 10, End: 12},
				{Index: 1, Start: 12, End: 14},
				{Index: 2, Start: 14, End: 16},
			},
		},
		{
			name: "remainder assigned", start: 10, end: 17, threads: 3, assignRemainder: true,
			want: []WorkerAssignment{
				{Index: 0, Start: 10, End: 12},
				{Index: 1, Start: 12, End: 14},
				{Index: 2, Start: 14, End: 17},
			},
		},
		{
			name: "more threads than nonces", start: 0, end: 2, threads: 3,
			want: []WorkerAssignment{
				{Index: 0, Start: 0, End: 0},
				{Index: 1, Start: 0, End: 0},
				{Index: 2, Start: 0, End: 0},
			},
		},
		{name: "no threads", start: 0, end: 10, threads: 0},
		{name: "empty range", start: 5, end: 5, threads: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Partition(tt.start, tt.end, tt.threads, tt.assignRemainder))
		})
	}
}

func TestPartitionDisjoint(t *testing.T) {
	for threads := uint64(1); threads <= 9; threads++ {
		start, end := uint64(1_000), uint64(1_000+997)
		parts := Partition(start, end, threads, false)
		require.Len(t, parts, int(threads))

		size := (end - start) / threads
		var covered uint64
		for i, p := range parts {
			assert.Equal(t, size, p.Size())
			covered += p.Size()
			if i > 0 {
				assert.Equal(t, parts[i-1].End, p.Start, "partitions must be adjacent and disjoint")
			}
		}
		assert.LessOrEqual(t, covered, end-start)
	}
}

func TestPoolReturnsMaxObservedDifficulty(t *testing.T) {
	fake := &fakeOracle{score: func(n uint64) (uint32, error) {
		if n%7 == 0 {
			return 0, oracle.ErrNoSolution
		}
		return uint32((n * 31) % 53), nil
	}}
	pool := newTestPool(t, fake, nil)

	req := JobRequest{Threads: 4, StartNonce: 0, EndNonce: 1000, Cutoff: time.Hour, MinDifficulty: 100}
	result := pool.Run("job", req, new(atomic.Bool), nil)

	assert.Equal(t, fake.maxObserved(), result.Difficulty)
	assert.Equal(t, 4, result.Threads)
	assert.Equal(t, uint64(1000), result.TotalHashes)
	for _, w := range result.Workers {
		assert.Equal(t, OutcomeExhausted, w.Outcome)
		assert.LessOrEqual(t, w.Difficulty, result.Difficulty)
	}
	assert.Equal(t, result.Difficulty, result.Solution.Difficulty())
}

func TestPoolTieBreakLowestIndex(t *testing.T) {
	pool := newTestPool(t, &fakeOracle{score: constantScore(5)}, nil)

	req := JobRequest{Threads: 4, StartNonce: 0, EndNonce: 400, Cutoff: time.Hour}
	result := pool.Run("job", req, new(atomic.Bool), nil)

	assert.Equal(t, uint32(5), result.Difficulty)
	assert.Equal(t, 0, result.WorkerIndex)
	assert.Less(t, result.Nonce, uint64(100))
}

func TestPoolPresetCancellation(t *testing.T) {
	pool := newTestPool(t, &fakeOracle{score: constantScore(9)}, nil)

	cancel := new(atomic.Bool)
	cancel.Store(true)

	req := JobRequest{Threads: 4, StartNonce: 100, EndNonce: 500, Cutoff: time.Hour}
	result := pool.Run("job", req, cancel, nil)

	assert.Zero(t, result.Difficulty)
	assert.Equal(t, uint64(100), result.Nonce)
	assert.Zero(t, result.TotalHashes)
	for i, w := range result.Workers {
		assert.Equal(t, OutcomeCancelled, w.Outcome)
		assert.Equal(t, uint64(100+i*100), w.Nonce)
		assert.True(t, w.Solution.IsZero())
	}
}

func TestPoolAllZeroIsNotAnError(t *testing.T) {
	pool := newTestPool(t, &fakeOracle{score: func(uint64) (uint32, error) {
		return 0, oracle.ErrNoSolution
	}}, nil)

	req := JobRequest{Threads: 2, StartNonce: 0, EndNonce: 64, Cutoff: time.Hour}
	result := pool.Run("job", req, new(atomic.Bool), nil)

	assert.Zero(t, result.Difficulty)
	assert.Equal(t, uint64(0), result.Nonce)
	assert.Equal(t, uint64(64), result.TotalHashes)
}

func TestPoolRecoversWorkerPanic(t *testing.T) {
	pool := newTestPool(t, &fakeOracle{score: func(n uint64) (uint32, error) {
		if n >= 100 && n < 200 {
			panic("boom")
		}
		return uint32(n % 10), nil
	}}, nil)

	req := JobRequest{Threads: 3, StartNonce: 0, EndNonce: 300, Cutoff: time.Hour}
	result := pool.Run("job", req, new(atomic.Bool), nil)

	require.Len(t, result.Workers, 3)
	assert.Equal(t, OutcomeFailed, result.Workers[1].Outcome)
	assert.Zero(t, result.Workers[1].Difficulty)
	assert.Equal(t, uint64(100), result.Workers[1].Nonce)
	assert.Equal(t, OutcomeExhausted, result.Workers[0].Outcome)
	assert.Equal(t, uint32(9), result.Difficulty)
	assert.Equal(t, 0, result.WorkerIndex)
}

func TestPoolOracleFault(t *testing.T) {
	pool := newTestPool(t, &fakeOracle{score: func(n uint64) (uint32, error) {
		if n == 5 {
			return 0, errors.New("corrupt scratch")
		}
		return 3, nil
	}}, nil)

	req := JobRequest{Threads: 1, StartNonce: 0, EndNonce: 50, Cutoff: time.Hour}
	result := pool.Run("job", req, new(atomic.Bool), nil)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Zero(t, result.Difficulty)
	assert.Equal(t, uint64(6), result.Hashes)
}

func TestPoolSoftCutoffKeepsSearching(t *testing.T) {
	fake := &fakeOracle{score: constantScore(1)}
	pool := newTestPool(t, fake, nil)

	// The cutoff has passed at the first checkpoint but the bar is never met.
	req := JobRequest{Threads: 2, StartNonce: 0, EndNonce: 4000, Cutoff: 0, MinDifficulty: 30}
	result := pool.Run("job", req, new(atomic.Bool), nil)

	assert.Equal(t, uint64(4000), result.TotalHashes)
	for _, w := range result.Workers {
		assert.Equal(t, OutcomeExhausted, w.Outcome)
	}
	assert.Equal(t, uint32(1), result.Difficulty)
}

func TestPoolCutoffReachedOnceBarMet(t *testing.T) {
	pool := newTestPool(t, &fakeOracle{score: constantScore(2)}, nil)

	req := JobRequest{Threads: 1, StartNonce: 0, EndNonce: 10_000, Cutoff: 0, MinDifficulty: 2}
	result := pool.Run("job", req, new(atomic.Bool), nil)

	assert.Equal(t, OutcomeCutoffReached, result.Outcome)
	assert.Equal(t, uint64(16), result.Hashes)
	assert.Equal(t, uint32(2), result.Difficulty)
}

func TestPoolHardCeiling(t *testing.T) {
	fake := &fakeOracle{score: constantScore(1), delay: time.Millisecond}
	pool := newTestPool(t, fake, func(c *Config) {
		c.HardCeiling = 20 * time.Millisecond
		c.BatchSize = 4
	})

	req := JobRequest{Threads: 1, StartNonce: 0, EndNonce: 1 << 40, Cutoff: 0, MinDifficulty: 200}
	result := pool.Run("job", req, new(atomic.Bool), nil)

	assert.Equal(t, OutcomeCutoffReached, result.Outcome)
	assert.Less(t, result.Hashes, uint64(10_000))
}

func TestPoolRandomSelectionStaysInPartition(t *testing.T) {
	fake := &fakeOracle{score: func(n uint64) (uint32, error) { return uint32(n % 13), nil }}
	pool := newTestPool(t, fake, func(c *Config) { c.Selection = SelectionRandom })

	req := JobRequest{Threads: 4, StartNonce: 1000, EndNonce: 2000, Cutoff: time.Hour, MinDifficulty: 50}
	result := pool.Run("job", req, new(atomic.Bool), nil)

	for i, w := range result.Workers {
		lo := uint64(1000 + i*250)
		assert.GreaterOrEqual(t, w.Nonce, lo)
		assert.Less(t, w.Nonce, lo+250)
		assert.Equal(t, uint64(250), w.Hashes)
	}
}

func TestPoolProgressFromDesignatedWorker(t *testing.T) {
	pool := newTestPool(t, &fakeOracle{score: constantScore(1)}, nil)

	var reports atomic.Int64
	progress := ProgressFunc(func(p Progress) {
		assert.Equal(t, "job-p", p.JobID)
		assert.Greater(t, p.Remaining, time.Duration(0))
		reports.Add(1)
	})

	req := JobRequest{Threads: 4, StartNonce: 0, EndNonce: 400, Cutoff: time.Hour, MinDifficulty: 1}
	pool.Run("job-p", req, new(atomic.Bool), progress)

	// 100 nonces per worker, batch 16: checkpoints at 16, 32, ..., 96 for worker 0 only.
	assert.Equal(t, int64(6), reports.Load())
}

func TestConcreteScenarioWithDrill(t *testing.T) {
	pool := NewPool(zaptest.NewLogger(t), oracle.DefaultDrill(), DefaultConfig())

	req := JobRequest{Threads: 4, StartNonce: 0, EndNonce: 1000, Cutoff: time.Second, MinDifficulty: 1}
	result := pool.Run("job", req, new(atomic.Bool), nil)

	require.Len(t, result.Workers, 4)
	for i, w := range result.Workers {
		assert.GreaterOrEqual(t, w.Nonce, uint64(i*250))
		assert.Less(t, w.Nonce, uint64((i+1)*250))
	}
	assert.Less(t, result.Nonce, uint64(1000))
	if result.Difficulty > 0 {
		sol, err := oracle.DefaultDrill().Evaluate(req.Challenge, oracle.NonceBytes(result.Nonce), oracle.DefaultDrill().NewScratch())
		require.NoError(t, err)
		assert.Equal(t, result.Solution, sol)
	}
}

func TestJobOutcome(t *testing.T) {
	tests := []struct {
		name   string
		result JobResult
		want   string
	}{
		{
			name:   "no workers uses the winner",
			result: JobResult{WorkerResult: WorkerResult{Outcome: OutcomeCutoffReached}},
			want:   "cutoff_reached",
		},
		{
			name: "all exhausted",
			result: JobResult{Workers: []WorkerResult{
				{Outcome: OutcomeExhausted}, {Outcome: OutcomeExhausted},
			}},
			want: "exhausted",
		},
		{
			name: "failed sibling outranks winner",
			result: JobResult{
				WorkerResult: WorkerResult{Outcome: OutcomeCutoffReached},
				Workers:      []WorkerResult{{Outcome: OutcomeCutoffReached}, {Outcome: OutcomeFailed}},
			},
			want: "failed",
		},
		{
			name: "cancelled outranks cutoff",
			result: JobResult{Workers: []WorkerResult{
				{Outcome: OutcomeCutoffReached}, {Outcome: OutcomeCancelled},
			}},
			want: "cancelled",
		},
		{
			name: "preempted wins over everything",
			result: JobResult{
				Preempted: true,
				Workers:   []WorkerResult{{Outcome: OutcomeFailed}},
			},
			want: "preempted",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.JobOutcome())
		})
	}
}
