package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/models"
	"github.com/jupark12/jobdesc-ingest/queue"
)

// Extractor runs the extraction routine for one stored object
type Extractor interface {
	Run(ctx context.Context, container, blobPath string) (string, error)
}

// Worker represents a processing node that consumes jobs
type Worker struct {
	ID           string
	Queue        *queue.JobQueue
	Extractor    Extractor
	PollInterval time.Duration
	Processing   bool
	mu           sync.Mutex
	notify       func(jobID string)
	logger       *zap.Logger
}

// NewWorker creates a new worker instance
func NewWorker(id string, q *queue.JobQueue, extractor Extractor, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		ID:           id,
		Queue:        q,
		Extractor:    extractor,
		PollInterval: pollInterval,
		logger:       logger.With(zap.String("worker_id", id)),
	}
}

// SetNotifier sets the callback invoked after a job changes state
func (w *Worker) SetNotifier(fn func(jobID string)) {
	w.notify = fn
}

// IsProcessing reports whether the worker is running a job
func (w *Worker) IsProcessing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Processing
}

// Start begins processing jobs until ctx is cancelled. The returned channel closes when the loop exits.
func (w *Worker) Start(ctx context.Context) <-chan struct{} {
	w.logger.Info("worker starting")
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return
			}
			if !w.ProcessNext(ctx) {
				select {
				case <-ctx.Done():
				case <-time.After(w.PollInterval):
				}
			}
		}
	}()

	return done
}

// ProcessNext runs one pending job. It returns false when no job was available.
func (w *Worker) ProcessNext(ctx context.Context) bool {
	job, err := w.Queue.DequeueJob(ctx, w.ID)
	if err != nil {
		if !errors.Is(err, queue.ErrNoPendingJobs) {
			w.logger.Error("dequeue failed", zap.Error(err))
		}
		return false
	}

	w.setProcessing(true)
	defer w.setProcessing(false)
	w.emit(job.ID)

	w.process(ctx, job)
	return true
}

func (w *Worker) process(ctx context.Context, job *models.Job) {
	log := w.logger.With(zap.String("job_id", job.ID), zap.String("source_path", job.SourcePath))
	log.Info("processing job")

	outputPath, err := w.Extractor.Run(ctx, job.Container, job.SourcePath)
	// Record the outcome even when ctx was cancelled mid-run.
	recordCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Error("job failed", zap.Error(err))
		if ferr := w.Queue.FailJob(recordCtx, job.ID, err.Error()); ferr != nil {
			log.Error("failed to record job failure", zap.Error(ferr))
		}
	} else {
		log.Info("job completed", zap.String("output_path", outputPath))
		if cerr := w.Queue.CompleteJob(recordCtx, job.ID, outputPath); cerr != nil {
			log.Error("failed to record job completion", zap.Error(cerr))
		}
	}
	w.emit(job.ID)
}

func (w *Worker) setProcessing(v bool) {
	w.mu.Lock()
	w.Processing = v
	w.mu.Unlock()
}

func (w *Worker) emit(jobID string) {
	if w.notify != nil {
		w.notify(jobID)
	}
}
