package mining

import (
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/oracle"
	"go.uber.org/zap"
)

// Recorder receives job and worker measurements.
type Recorder interface {
	JobStarted(threads int)
	JobFinished(result JobResult)
	JobPreempted()
	WorkerFailed()
}

type nopRecorder struct{}

func (nopRecorder) JobStarted(int) {}
func (nopRecorder) JobFinished(JobResult) {}
func (nopRecorder) JobPreempted() {}
func (nopRecorder) WorkerFailed() {}

// Pool runs one worker per partition and reduces their results.
type Pool struct {
	logger   *zap.Logger
	oracle   oracle.Oracle
	config   Config
	recorder Recorder
}

// NewPool creates a worker pool evaluating candidates with o.
func NewPool(logger *zap.Logger, o oracle.Oracle, config Config) *Pool {
	if config.BatchSize == 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.Selection == "" {
		config.Selection = SelectionRandom
	}
	return &Pool{
		logger:   logger,
		oracle:   o,
		config:   config,
		recorder: nopRecorder{},
	}
}

// SetRecorder installs a measurement recorder. Call before the pool is used.
func (p *Pool) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	p.recorder = r
}

// Run searches req with one goroutine per partition, waits for every worker
// to return and reduces their results. The job stops early when cancel is set.
func (p *Pool) Run(jobID string, req JobRequest, cancel *atomic.Bool, progress ProgressReporter) JobResult {
	started := time.Now()
	assignments := Partition(req.StartNonce, req.EndNonce, req.Threads, p.config.AssignRemainder)
	if len(assignments) == 0 {
		return JobResult{
			WorkerResult: WorkerResult{Nonce: req.StartNonce},
			JobID:        jobID,
		}
	}
	results := make([]WorkerResult, len(assignments))

	p.recorder.JobStarted(len(assignments))
	p.logger.Debug("Starting workers",
		zap.String("job_id", jobID),
		zap.Int("workers", len(assignments)),
		zap.Uint64("partition_size", assignments[0].Size()),
	)

	var wg sync.WaitGroup
	for i, a := range assignments {
		wg.Add(1)
		go func(i int, a WorkerAssignment) {
			defer wg.Done()
			results[i] = p.runWorker(jobID, req, a, cancel, progress)
		}(i, a)
	}
	wg.Wait()

	result := JobResult{
		WorkerResult: reduce(results),
		JobID:        jobID,
		Threads:      len(assignments),
		Elapsed:      time.Since(started),
		Workers:      results,
	}
	for _, r := range results {
		result.TotalHashes += r.Hashes
	}

	return result
}

// runWorker runs one worker. A worker that fails or panics contributes its
// default result so the reduction stays well defined.
func (p *Pool) runWorker(jobID string, req JobRequest, a WorkerAssignment, cancel *atomic.Bool, progress ProgressReporter) (result WorkerResult) {
	defer func() {
		if r := recover(); r != nil {
			p.recorder.WorkerFailed()
			p.logger.Error("Worker panic recovered",
				zap.String("job_id", jobID),
				zap.Int("worker", a.Index),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			result = defaultResult(a)
			result.Outcome = OutcomeFailed
		}
	}()

	w := &Worker{
		assignment:    a,
		scratch:       p.oracle.NewScratch(),
		oracle:        p.oracle,
		jobID:         jobID,
		challenge:     req.Challenge,
		cutoff:        req.Cutoff,
		minDifficulty: req.MinDifficulty,
		cancel:        cancel,
		batchSize:     p.config.BatchSize,
		selection:     p.config.Selection,
		hardCeiling:   p.config.HardCeiling,
		progress:      progress,
		rng:           rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(a.Index))),
	}

	result, err := w.Search()
	if err != nil {
		p.recorder.WorkerFailed()
		p.logger.Error("Worker failed",
			zap.String("job_id", jobID),
			zap.Int("worker", a.Index),
			zap.Error(err),
		)
		hashes := result.Hashes
		result = defaultResult(a)
		result.Hashes = hashes
		result.Outcome = OutcomeFailed
	}
	return result
}

// reduce picks the result with the greatest difficulty. Ties go to the
// lowest worker index.
func reduce(results []WorkerResult) WorkerResult {
	if len(results) == 0 {
		return WorkerResult{}
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Difficulty > best.Difficulty {
			best = r
		}
	}
	return best
}
