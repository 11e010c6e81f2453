package mining

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// job is the controller's handle on one admitted job.
type job struct {
	id         string
	generation uint64
	startedAt  time.Time
	request    JobRequest

	// cancel is the signal the job's workers poll.
	cancel    atomic.Bool
	preempted atomic.Bool
}

func (j *job) preempt() {
	j.preempted.Store(true)
	j.cancel.Store(true)
}

// Controller admits jobs one at a time. Admitting a job while another is
// running cancels the running one, waits the grace period and then starts
// the new job. The grace period is advisory: the new job may start while the
// previous job's workers are still unwinding.
type Controller struct {
	logger      *zap.Logger
	pool        *Pool
	gracePeriod time.Duration
	progress    ProgressReporter
	observers   []JobObserver

	mu         sync.Mutex
	running    bool
	current    *job
	generation uint64
}

// NewController creates a job controller around pool.
func NewController(logger *zap.Logger, pool *Pool, gracePeriod time.Duration) *Controller {
	return &Controller{
		logger:      logger,
		pool:        pool,
		gracePeriod: gracePeriod,
	}
}

// SetProgress installs the progress reporter handed to each job's workers.
// Call before the first admission.
func (c *Controller) SetProgress(r ProgressReporter) {
	c.progress = r
}

// AddObserver registers a job lifecycle observer. Call before the first admission.
func (c *Controller) AddObserver(o JobObserver) {
	c.observers = append(c.observers, o)
}

// Admit validates req, preempts any running job and runs req to completion.
// Cancelling ctx cancels this job's workers; the partial result is still returned.
func (c *Controller) Admit(ctx context.Context, req JobRequest) (JobResult, error) {
	if err := req.Validate(); err != nil {
		return JobResult{}, err
	}

	j := c.acquire(req)
	defer c.release(j)

	stop := context.AfterFunc(ctx, func() { j.cancel.Store(true) })
	defer stop()

	logger := c.logger.With(zap.String("job_id", j.id))
	logger.Info("Job admitted",
		zap.Uint64("generation", j.generation),
		zap.Uint64("threads", req.Threads),
		zap.Duration("cutoff", req.Cutoff),
		zap.Uint32("min_difficulty", req.MinDifficulty),
		zap.Uint64("start_nonce", req.StartNonce),
		zap.Uint64("end_nonce", req.EndNonce),
	)
	for _, o := range c.observers {
		o.JobStarted(j.id, req)
	}

	result := c.pool.Run(j.id, req, &j.cancel, c.progress)
	result.Preempted = j.preempted.Load()

	logger.Info("Job finished",
		zap.Uint64("best_nonce", result.Nonce),
		zap.Uint32("best_difficulty", result.Difficulty),
		zap.Uint64("total_hashes", result.TotalHashes),
		zap.Duration("elapsed", result.Elapsed),
		zap.Bool("preempted", result.Preempted),
	)
	c.pool.recorder.JobFinished(result)
	for _, o := range c.observers {
		o.JobFinished(result)
	}

	return result, nil
}

// acquire preempts running jobs and registers j as the current job.
func (c *Controller) acquire(req JobRequest) *job {
	c.mu.Lock()
	defer c.mu.Unlock()

	var preempted *job
	for c.running && c.current != preempted {
		preempted = c.current
		preempted.preempt()
		c.pool.recorder.JobPreempted()
		c.logger.Info("Preempting running job",
			zap.String("job_id", preempted.id),
			zap.Duration("grace_period", c.gracePeriod),
		)

		c.mu.Unlock()
		time.Sleep(c.gracePeriod)
		c.mu.Lock()
	}

	c.generation++
	j := &job{
		id:         uuid.NewString(),
		generation: c.generation,
		startedAt:  time.Now(),
		request:    req,
	}
	c.current = j
	c.running = true
	return j
}

// release clears the running flag unless a newer job has taken over.
func (c *Controller) release(j *job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == j {
		c.current = nil
		c.running = false
	}
}

// Status describes the controller state.
type Status struct {
	Running    bool       `json:"running"`
	JobID      string     `json:"job_id,omitempty"`
	Generation uint64     `json:"generation"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	Threads    uint64     `json:"threads,omitempty"`
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		Running:    c.running,
		Generation: c.generation,
	}
	if c.current != nil {
		started := c.current.startedAt
		s.JobID = c.current.id
		s.StartedAt = &started
		s.Threads = c.current.request.Threads
	}
	return s
}
