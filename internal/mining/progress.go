package mining

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Progress is a snapshot reported by the designated worker of a job.
type Progress struct {
	JobID     string        `json:"job_id"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
	Hashes    uint64        `json:"hashes"`
}

// ProgressReporter receives progress snapshots. Reports are informational
// and must not block the worker for long.
type ProgressReporter interface {
	Report(p Progress)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(p Progress)

// Report implements ProgressReporter.
func (f ProgressFunc) Report(p Progress) { f(p) }

// MultiReporter fans a report out to several reporters.
type MultiReporter []ProgressReporter

// Report implements ProgressReporter.
func (m MultiReporter) Report(p Progress) {
	for _, r := range m {
		if r != nil {
			r.Report(p)
		}
	}
}

// JobObserver is notified about job lifecycle events.
type JobObserver interface {
	JobStarted(jobID string, req JobRequest)
	JobFinished(result JobResult)
}

// LogReporter logs progress at debug level, at most once per interval.
type LogReporter struct {
	logger   *zap.Logger
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewLogReporter creates a reporter that logs through logger.
func NewLogReporter(logger *zap.Logger, interval time.Duration) *LogReporter {
	return &LogReporter{logger: logger, interval: interval}
}

// Report implements ProgressReporter.
func (r *LogReporter) Report(p Progress) {
	now := time.Now()
	r.mu.Lock()
	if now.Sub(r.last) < r.interval {
		r.mu.Unlock()
		return
	}
	r.last = now
	r.mu.Unlock()

	r.logger.Debug("Mining...",
		zap.String("job_id", p.JobID),
		zap.Duration("elapsed", p.Elapsed),
		zap.Duration("remaining", p.Remaining),
		zap.Uint64("hashes", p.Hashes),
	)
}
