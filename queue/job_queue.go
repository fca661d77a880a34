package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/models"
)

var (
	ErrNoPendingJobs = errors.New("no pending jobs available")
	ErrJobNotFound   = errors.New("job not found")
	ErrJobBusy       = errors.New("job is already queued or processing")
)

// Store persists job records.
type Store interface {
	Save(ctx context.Context, job *models.Job) error
	LoadAll(ctx context.Context) ([]*models.Job, error)
}

// JobQueue tracks job records and the FIFO of jobs waiting for extraction
type JobQueue struct {
	mu             sync.RWMutex
	pendingJobs    []*models.Job
	processingJobs map[string]*models.Job
	jobsByID       map[string]*models.Job
	store          Store
	logger         *zap.Logger
	now            func() time.Time
}

// NewJobQueue creates a new instance of JobQueue
func NewJobQueue(store Store, logger *zap.Logger) *JobQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobQueue{
		pendingJobs:    make([]*models.Job, 0),
		processingJobs: make(map[string]*models.Job),
		jobsByID:       make(map[string]*models.Job),
		store:          store,
		logger:         logger,
		now:            time.Now,
	}
}

// Register records a freshly uploaded job
func (q *JobQueue) Register(ctx context.Context, jobID, container, sourcePath, label string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	job := &models.Job{
		ID:         jobID,
		Container:  container,
		SourcePath: sourcePath,
		Label:      label,
		Status:     models.StatusUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := q.persistJob(ctx, job); err != nil {
		return nil, err
	}

	q.jobsByID[jobID] = job
	return snapshot(job), nil
}

// EnqueueExtraction queues container/sourcePath for extraction under jobID.
// An existing record is reused unless it is already waiting or running.
// Queue state only changes once the record is saved.
func (q *JobQueue) EnqueueExtraction(ctx context.Context, jobID, container, sourcePath string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	current, exists := q.jobsByID[jobID]
	var next *models.Job
	if exists {
		if current.Status == models.StatusPending || current.Status == models.StatusProcessing {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrJobBusy)
		}
		next = snapshot(current)
	} else {
		next = &models.Job{ID: jobID, CreatedAt: now}
	}

	next.Container = container
	next.SourcePath = sourcePath
	next.OutputPath = ""
	next.ErrorMessage = ""
	next.ProcessingNode = ""
	next.StartedAt = time.Time{}
	next.CompletedAt = time.Time{}
	next.Status = models.StatusPending
	next.UpdatedAt = now

	if err := q.persistJob(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if exists {
		*current = *next
	} else {
		current = next
		q.jobsByID[jobID] = current
	}
	q.pendingJobs = append(q.pendingJobs, current)

	q.logger.Info("job enqueued", zap.String("job_id", jobID), zap.String("source_path", sourcePath))
	return snapshot(current), nil
}

// DequeueJob gets the next pending job and marks it as processing.
// The job stays at the head of the queue when the status change cannot be saved.
func (q *JobQueue) DequeueJob(ctx context.Context, workerID string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pendingJobs) == 0 {
		return nil, ErrNoPendingJobs
	}

	// FIFO
	job := q.pendingJobs[0]

	now := q.now()
	next := snapshot(job)
	next.Status = models.StatusProcessing
	next.StartedAt = now
	next.UpdatedAt = now
	next.ProcessingNode = workerID

	if err := q.persistJob(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}

	*job = *next
	q.pendingJobs = q.pendingJobs[1:]
	q.processingJobs[job.ID] = job

	return snapshot(job), nil
}

// CompleteJob marks a job as completed
func (q *JobQueue) CompleteJob(ctx context.Context, jobID, outputPath string) error {
	return q.finish(ctx, jobID, func(job *models.Job) {
		job.Status = models.StatusCompleted
		job.OutputPath = outputPath
	})
}

// FailJob marks a job as failed
func (q *JobQueue) FailJob(ctx context.Context, jobID string, errorMsg string) error {
	return q.finish(ctx, jobID, func(job *models.Job) {
		job.Status = models.StatusFailed
		job.ErrorMessage = errorMsg
	})
}

// finish moves a processing job to a final state. A failed save leaves it processing.
func (q *JobQueue) finish(ctx context.Context, jobID string, apply func(job *models.Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, exists := q.processingJobs[jobID]
	if !exists {
		return fmt.Errorf("job %s not found in processing queue", jobID)
	}

	now := q.now()
	next := snapshot(job)
	apply(next)
	next.CompletedAt = now
	next.UpdatedAt = now

	if err := q.persistJob(ctx, next); err != nil {
		return err
	}

	*job = *next
	delete(q.processingJobs, jobID)
	return nil
}

// GetJob retrieves a job by ID
func (q *JobQueue) GetJob(jobID string) (*models.Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, exists := q.jobsByID[jobID]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}

	return snapshot(job), nil
}

// GetJobsByStatus returns every job currently in status
func (q *JobQueue) GetJobsByStatus(status models.JobStatus) []*models.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	jobs := make([]*models.Job, 0)
	for _, job := range q.jobsByID {
		if job.Status == status {
			jobs = append(jobs, snapshot(job))
		}
	}
	return jobs
}

// GetAllJobs returns a copy of all jobs
func (q *JobQueue) GetAllJobs() []*models.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(q.jobsByID))
	for _, job := range q.jobsByID {
		jobs = append(jobs, snapshot(job))
	}
	return jobs
}

// LoadJobs loads persisted jobs. Jobs that were pending or processing when the
// process stopped go back to the pending queue in creation order.
func (q *JobQueue) LoadJobs(ctx context.Context) error {
	jobs, err := q.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	sortByCreated(jobs)
	for _, job := range jobs {
		q.jobsByID[job.ID] = job

		switch job.Status {
		case models.StatusPending, models.StatusProcessing:
			job.Status = models.StatusPending
			job.ProcessingNode = ""
			q.pendingJobs = append(q.pendingJobs, job)
		}
	}

	q.logger.Info("loaded jobs", zap.Int("jobs", len(jobs)), zap.Int("pending", len(q.pendingJobs)))
	return nil
}

func (q *JobQueue) persistJob(ctx context.Context, job *models.Job) error {
	if q.store == nil {
		return nil
	}
	return q.store.Save(ctx, job)
}

func snapshot(job *models.Job) *models.Job {
	cp := *job
	return &cp
}
