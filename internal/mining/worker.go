package mining

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/oracle"
)

// Worker searches one partition of a job's nonce range.
//
// A worker owns its scratch buffer for its whole lifetime. The only state it
// shares is the read-only challenge and the job's cancel signal.
type Worker struct {
	assignment WorkerAssignment
	scratch    *oracle.Scratch
	oracle     oracle.Oracle

	jobID         string
	challenge     [32]byte
	cutoff        time.Duration
	minDifficulty uint32
	cancel        *atomic.Bool

	batchSize   uint64
	selection   Selection
	hardCeiling time.Duration
	progress    ProgressReporter

	rng *rand.Rand
}

// errOracleFault wraps oracle errors other than ErrNoSolution.
var errOracleFault = errors.New("oracle fault")

// Search runs the search loop until the partition is exhausted, the cutoff
// is reached with the difficulty bar met, or the job is cancelled.
func (w *Worker) Search() (WorkerResult, error) {
	result := defaultResult(w.assignment)
	size := w.assignment.Size()
	timer := time.Now()

	for attempts := uint64(0); attempts < size; attempts++ {
		if attempts%w.batchSize == 0 {
			if w.cancel.Load() {
				result.Outcome = OutcomeCancelled
				return result, nil
			}
			if attempts > 0 {
				elapsed := time.Since(timer)
				if elapsed >= w.cutoff {
					// Past the cutoff the worker only stops once the bar is met,
					// or once the optional hard ceiling is hit.
					if result.Difficulty >= w.minDifficulty {
						result.Outcome = OutcomeCutoffReached
						return result, nil
					}
					if w.hardCeiling > 0 && elapsed >= w.cutoff+w.hardCeiling {
						result.Outcome = OutcomeCutoffReached
						return result, nil
					}
				} else if w.assignment.Index == 0 && w.progress != nil {
					w.progress.Report(Progress{
						JobID:     w.jobID,
						Elapsed:   elapsed,
						Remaining: w.cutoff - elapsed,
						Hashes:    result.Hashes,
					})
				}
			}
		}

		nonce := w.next(attempts)
		sol, err := w.oracle.Evaluate(w.challenge, oracle.NonceBytes(nonce), w.scratch)
		result.Hashes++
		if err != nil {
			if errors.Is(err, oracle.ErrNoSolution) {
				continue
			}
			return result, fmt.Errorf("%w: worker %d nonce %d: %w", errOracleFault, w.assignment.Index, nonce, err)
		}

		if d := sol.Difficulty(); d > result.Difficulty {
			result.Nonce = nonce
			result.Difficulty = d
			result.Solution = sol
		}
	}

	result.Outcome = OutcomeExhausted
	return result, nil
}

// next returns the candidate nonce for the given attempt.
func (w *Worker) next(attempt uint64) uint64 {
	if w.selection == SelectionSequential {
		return w.assignment.Start + attempt
	}
	return w.assignment.Start + w.rng.Uint64N(w.assignment.Size())
}
