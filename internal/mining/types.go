package mining

import (
	"errors"
	"fmt"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/oracle"
)

var (
	// ErrNoThreads is returned for a job that asks for zero workers.
	ErrNoThreads = errors.New("thread count must be greater than zero")
	// ErrEmptyRange is returned when end_nonce does not exceed start_nonce.
	ErrEmptyRange = errors.New("end nonce must be greater than start nonce")
)

// Selection is the candidate nonce selection policy of a worker.
type Selection string

const (
	// SelectionRandom samples nonces uniformly from the partition, with replacement.
	SelectionRandom Selection = "random"
	// SelectionSequential scans the partition in order.
	SelectionSequential Selection = "sequential"
)

// Config holds worker pool and admission settings.
type Config struct {
	// GracePeriod is how long a new admission waits after cancelling a running job.
	GracePeriod time.Duration `yaml:"grace_period"`
	// BatchSize is the number of attempts between cancellation and time checks.
	BatchSize uint64 `yaml:"batch_size"`
	Selection Selection `yaml:"selection"`
	// AssignRemainder gives the nonces left over by integer division to the last worker.
	AssignRemainder bool `yaml:"assign_remainder"`
	// HardCeiling bounds how long a worker keeps going past the cutoff when the
	// difficulty bar is unmet. Zero keeps searching until the partition is exhausted.
	HardCeiling time.Duration `yaml:"hard_ceiling"`
	// MaxThreads caps requested thread counts. Zero means no cap.
	MaxThreads int `yaml:"max_threads"`
	// MemoryFraction is the share of system memory scratch buffers may claim.
	MemoryFraction float64            `yaml:"memory_fraction"`
	Oracle         oracle.DrillConfig `yaml:"oracle"`
}

// DefaultConfig returns the default mining configuration.
func DefaultConfig() Config {
	return Config{
		GracePeriod:    100 * time.Millisecond,
		BatchSize:      256,
		Selection:      SelectionRandom,
		MemoryFraction: 0.5,
		Oracle: oracle.DrillConfig{
			ScratchWords: oracle.DefaultScratchWords,
			MixRounds:    oracle.DefaultMixRounds,
			MissMask:     oracle.DefaultMissMask,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace_period cannot be negative")
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	switch c.Selection {
	case SelectionRandom, SelectionSequential:
	default:
		return fmt.Errorf("unknown selection policy: %q", c.Selection)
	}
	if c.HardCeiling < 0 {
		return fmt.Errorf("hard_ceiling cannot be negative")
	}
	if c.MaxThreads < 0 {
		return fmt.Errorf("max_threads cannot be negative")
	}
	if c.MemoryFraction <= 0 || c.MemoryFraction > 1 {
		return fmt.Errorf("memory_fraction must be in (0, 1]")
	}
	return nil
}

// JobRequest describes one search job. It is not modified after admission.
type JobRequest struct {
	Challenge     [32]byte
	Cutoff        time.Duration
	Threads       uint64
	MinDifficulty uint32
	StartNonce    uint64
	EndNonce      uint64
}

// Validate checks the request fields that do not depend on transport encoding.
func (r JobRequest) Validate() error {
	if r.Threads == 0 {
		return ErrNoThreads
	}
	if r.EndNonce <= r.StartNonce {
		return ErrEmptyRange
	}
	return nil
}

// WorkerAssignment is the nonce range owned by one worker.
type WorkerAssignment struct {
	Index int
	Start uint64
	End   uint64
}

// Size returns the number of nonces in the assignment.
func (a WorkerAssignment) Size() uint64 {
	return a.End - a.Start
}

// Outcome is the terminal state of a worker's search.
type Outcome int

const (
	OutcomeExhausted Outcome = iota
	OutcomeCutoffReached
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCutoffReached:
		return "cutoff_reached"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// WorkerResult is the best candidate one worker found.
type WorkerResult struct {
	WorkerIndex int
	Nonce       uint64
	Difficulty  uint32
	Solution    oracle.Solution
	Hashes      uint64
	Outcome     Outcome
}

func defaultResult(a WorkerAssignment) WorkerResult {
	return WorkerResult{
		WorkerIndex: a.Index,
		Nonce:       a.Start,
	}
}

// JobResult is the reduced outcome of a job.
type JobResult struct {
	WorkerResult

	JobID       string
	Threads     int
	TotalHashes uint64
	Elapsed     time.Duration
	// Preempted is set when a newer admission cancelled this job.
	Preempted bool
	Workers   []WorkerResult
}

// JobOutcome summarises how the whole job ended: "preempted" when a newer
// admission cancelled it, otherwise the most severe outcome of any worker.
func (r JobResult) JobOutcome() string {
	if r.Preempted {
		return "preempted"
	}
	worst := OutcomeExhausted
	if len(r.Workers) == 0 {
		worst = r.Outcome
	}
	for _, w := range r.Workers {
		if severity(w.Outcome) > severity(worst) {
			worst = w.Outcome
		}
	}
	return worst.String()
}

func severity(o Outcome) int {
	switch o {
	case OutcomeFailed:
		return 3
	case OutcomeCancelled:
		return 2
	case OutcomeCutoffReached:
		return 1
	default:
		return 0
	}
}
