package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jupark12/jobdesc-ingest/models"
)

func newTestQueue(t *testing.T) (*JobQueue, *FileStore) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "jobs"), nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	q := NewJobQueue(store, nil)
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	q.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return q, store
}

func TestExtractionLifecycle(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if _, err := q.Register(ctx, "job-1", "job-descriptions", "job-1/offer.pdf", "Backend role"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	job, err := q.EnqueueExtraction(ctx, "job-1", "job-descriptions", "job-1/offer.pdf")
	if err != nil {
		t.Fatalf("EnqueueExtraction() error = %v", err)
	}
	if job.Status != models.StatusPending || job.Label != "Backend role" {
		t.Fatalf("unexpected job %+v", job)
	}

	got, err := q.DequeueJob(ctx, "worker-1")
	if err != nil {
		t.Fatalf("DequeueJob() error = %v", err)
	}
	if got.ID != "job-1" || got.Status != models.StatusProcessing || got.ProcessingNode != "worker-1" {
		t.Fatalf("unexpected dequeued job %+v", got)
	}

	if err := q.CompleteJob(ctx, "job-1", "job-1/raw_text.txt"); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}
	final, err := q.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Status != models.StatusCompleted || final.OutputPath != "job-1/raw_text.txt" || final.CompletedAt.IsZero() {
		t.Fatalf("unexpected final job %+v", final)
	}

	if _, err := q.DequeueJob(ctx, "worker-1"); !errors.Is(err, ErrNoPendingJobs) {
		t.Fatalf("expected ErrNoPendingJobs, got %v", err)
	}
}

func TestDequeueIsFIFO(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := q.EnqueueExtraction(ctx, id, "job-descriptions", id+"/doc.pdf"); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		job, err := q.DequeueJob(ctx, "w")
		if err != nil || job.ID != want {
			t.Fatalf("DequeueJob() = %v, %v; want %s", job, err, want)
		}
	}
}

func TestEnqueueRejectsBusyJob(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	if _, err := q.EnqueueExtraction(ctx, "a", "c", "a/doc.pdf"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.EnqueueExtraction(ctx, "a", "c", "a/doc.pdf"); !errors.Is(err, ErrJobBusy) {
		t.Fatalf("expected ErrJobBusy, got %v", err)
	}
}

func TestFailedJobCanBeRequeued(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	q.EnqueueExtraction(ctx, "a", "c", "a/doc.pdf")
	q.DequeueJob(ctx, "w")
	if err := q.FailJob(ctx, "a", "analyze document: unsupported"); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}
	if failed := q.GetJobsByStatus(models.StatusFailed); len(failed) != 1 || failed[0].ErrorMessage == "" {
		t.Fatalf("unexpected failed jobs %+v", failed)
	}

	job, err := q.EnqueueExtraction(ctx, "a", "c", "a/doc.pdf")
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if job.ErrorMessage != "" || job.Status != models.StatusPending {
		t.Fatalf("requeued job not reset: %+v", job)
	}
}

func TestCompleteUnknownJob(t *testing.T) {
	q, _ := newTestQueue(t)
	if err := q.CompleteJob(context.Background(), "missing", "x"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := q.GetJob("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestGetJobReturnsCopy(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)
	q.Register(ctx, "a", "c", "a/raw_text.txt", "")
	job, _ := q.GetJob("a")
	job.Status = models.StatusFailed
	again, _ := q.GetJob("a")
	if again.Status != models.StatusUploaded {
		t.Fatalf("queue state changed through returned job")
	}
}

func TestLoadJobsRequeuesInterruptedWork(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	q.Register(ctx, "done", "c", "done/raw_text.txt", "")
	q.EnqueueExtraction(ctx, "first", "c", "first/a.pdf")
	q.EnqueueExtraction(ctx, "second", "c", "second/b.pdf")
	q.DequeueJob(ctx, "w")

	os.WriteFile(filepath.Join(store.dataDir, "broken.json"), []byte("{not json"), 0644)

	restarted := NewJobQueue(store, nil)
	if err := restarted.LoadJobs(ctx); err != nil {
		t.Fatalf("LoadJobs() error = %v", err)
	}
	if n := len(restarted.GetAllJobs()); n != 3 {
		t.Fatalf("loaded %d jobs, want 3", n)
	}
	for _, want := range []string{"first", "second"} {
		job, err := restarted.DequeueJob(ctx, "w2")
		if err != nil || job.ID != want {
			t.Fatalf("DequeueJob() = %v, %v; want %s", job, err, want)
		}
	}
	done, _ := restarted.GetJob("done")
	if done.Status != models.StatusUploaded {
		t.Fatalf("uploaded job status changed to %s", done.Status)
	}
}

type flakyStore struct {
	*FileStore
	fail bool
}

func (s *flakyStore) Save(ctx context.Context, job *models.Job) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.FileStore.Save(ctx, job)
}

func newFlakyQueue(t *testing.T) (*JobQueue, *flakyStore) {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	store := &flakyStore{FileStore: fs}
	return NewJobQueue(store, nil), store
}

func TestDequeueKeepsJobWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	q, store := newFlakyQueue(t)
	if _, err := q.EnqueueExtraction(ctx, "a", "c", "a/doc.pdf"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	store.fail = true
	if _, err := q.DequeueJob(ctx, "w"); err == nil {
		t.Fatalf("expected save error")
	}
	job, _ := q.GetJob("a")
	if job.Status != models.StatusPending || job.ProcessingNode != "" {
		t.Fatalf("job changed after failed save: %+v", job)
	}

	store.fail = false
	got, err := q.DequeueJob(ctx, "w")
	if err != nil || got.ID != "a" || got.Status != models.StatusProcessing {
		t.Fatalf("DequeueJob() = %+v, %v", got, err)
	}
}

func TestEnqueueNotQueuedWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	q, store := newFlakyQueue(t)

	store.fail = true
	if _, err := q.EnqueueExtraction(ctx, "a", "c", "a/doc.pdf"); err == nil {
		t.Fatalf("expected save error")
	}
	if _, err := q.DequeueJob(ctx, "w"); !errors.Is(err, ErrNoPendingJobs) {
		t.Fatalf("expected ErrNoPendingJobs, got %v", err)
	}
	if _, err := q.GetJob("a"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	store.fail = false
	if _, err := q.EnqueueExtraction(ctx, "a", "c", "a/doc.pdf"); err != nil {
		t.Fatalf("retry enqueue: %v", err)
	}
}

func TestFailedRequeueKeepsPreviousRecord(t *testing.T) {
	ctx := context.Background()
	q, store := newFlakyQueue(t)
	q.EnqueueExtraction(ctx, "a", "c", "a/doc.pdf")
	q.DequeueJob(ctx, "w")
	q.CompleteJob(ctx, "a", "a/raw_text.txt")

	store.fail = true
	if _, err := q.EnqueueExtraction(ctx, "a", "c", "a/doc.pdf"); err == nil {
		t.Fatalf("expected save error")
	}
	job, _ := q.GetJob("a")
	if job.Status != models.StatusCompleted || job.OutputPath != "a/raw_text.txt" {
		t.Fatalf("record changed after failed save: %+v", job)
	}
	if _, err := q.DequeueJob(ctx, "w"); !errors.Is(err, ErrNoPendingJobs) {
		t.Fatalf("expected ErrNoPendingJobs, got %v", err)
	}
}

func TestCompleteKeepsProcessingWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	q, store := newFlakyQueue(t)
	q.EnqueueExtraction(ctx, "a", "c", "a/doc.pdf")
	q.DequeueJob(ctx, "w")

	store.fail = true
	if err := q.CompleteJob(ctx, "a", "a/raw_text.txt"); err == nil {
		t.Fatalf("expected save error")
	}
	job, _ := q.GetJob("a")
	if job.Status != models.StatusProcessing {
		t.Fatalf("status = %s, want processing", job.Status)
	}

	store.fail = false
	if err := q.FailJob(ctx, "a", "analyze document: timeout"); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}
}
