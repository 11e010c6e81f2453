package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/hardware"
	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
)

// ChallengeSize is the decoded length of a challenge.
const ChallengeSize = 32

var (
	// ErrInvalidChallenge is returned for a challenge that is not 32 hex-encoded bytes.
	ErrInvalidChallenge = errors.New("challenge must be 32 hex-encoded bytes")
	// ErrTooManyThreads is returned when a request exceeds the configured thread cap.
	ErrTooManyThreads = errors.New("thread count exceeds the configured maximum")
	// ErrScratchBudget is returned when the workers' scratch would not fit in memory.
	ErrScratchBudget = errors.New("insufficient memory for requested threads")
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field string
	Code  string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Host reports host parallelism and memory.
type Host interface {
	LogicalCPUs() int
	TotalMemory() uint64
}

// Limits bound what a single request may ask for.
type Limits struct {
	// MaxThreads caps the thread count. Zero means no cap.
	MaxThreads int
	// ScratchSize is the oracle scratch size per worker in bytes.
	ScratchSize    int
	MemoryFraction float64
}

// Validator turns a MineRequest into a mining.JobRequest.
type Validator struct {
	host   Host
	limits Limits
}

// NewValidator creates a validator bound to host and limits.
func NewValidator(host Host, limits Limits) *Validator {
	return &Validator{host: host, limits: limits}
}

// Validate checks req and resolves its thread count. No job is created for
// a request that fails validation.
func (v *Validator) Validate(req MineRequest) (mining.JobRequest, error) {
	var job mining.JobRequest

	challenge, err := DecodeChallenge(req.Challenge)
	if err != nil {
		return job, &ValidationError{Field: "challenge", Code: "invalid_challenge", Err: err}
	}

	if req.EndNonce <= req.StartNonce {
		return job, &ValidationError{Field: "end_nonce", Code: "invalid_range", Err: mining.ErrEmptyRange}
	}

	threads := req.Threads
	if req.UseMaxThreads {
		threads = uint64(v.host.LogicalCPUs())
	}
	if threads == 0 {
		return job, &ValidationError{Field: "threads", Code: "invalid_threads", Err: mining.ErrNoThreads}
	}
	if v.limits.MaxThreads > 0 && threads > uint64(v.limits.MaxThreads) {
		return job, &ValidationError{
			Field: "threads",
			Code:  "too_many_threads",
			Err:   fmt.Errorf("%w: %d > %d", ErrTooManyThreads, threads, v.limits.MaxThreads),
		}
	}
	// Without a cap or a known memory size nothing else bounds the thread count.
	if v.limits.MaxThreads == 0 && (v.host.TotalMemory() == 0 || v.limits.ScratchSize <= 0) {
		cpus := uint64(max(v.host.LogicalCPUs(), 1))
		if threads > cpus {
			return job, &ValidationError{
				Field: "threads",
				Code:  "too_many_threads",
				Err:   fmt.Errorf("%w: %d > %d logical CPUs with unknown memory", ErrTooManyThreads, threads, cpus),
			}
		}
	}
	if err := hardware.CheckScratchBudget(threads, v.limits.ScratchSize, v.host.TotalMemory(), v.limits.MemoryFraction); err != nil {
		return job, &ValidationError{
			Field: "threads",
			Code:  "insufficient_memory",
			Err:   fmt.Errorf("%w: %v", ErrScratchBudget, err),
		}
	}

	job = mining.JobRequest{
		Challenge:     challenge,
		Cutoff:        cutoffDuration(req.CutoffTime),
		Threads:       threads,
		MinDifficulty: req.MinDifficulty,
		StartNonce:    req.StartNonce,
		EndNonce:      req.EndNonce,
	}
	return job, nil
}

// DecodeChallenge decodes a hex challenge of exactly ChallengeSize bytes.
func DecodeChallenge(s string) ([ChallengeSize]byte, error) {
	var out [ChallengeSize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidChallenge, err)
	}
	if len(raw) != ChallengeSize {
		return out, fmt.Errorf("%w: got %d bytes", ErrInvalidChallenge, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// cutoffDuration converts seconds to a duration, saturating instead of overflowing.
func cutoffDuration(seconds uint64) time.Duration {
	const maxSeconds = uint64(1<<63-1) / uint64(time.Second)
	if seconds > maxSeconds {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(seconds) * time.Second
}
