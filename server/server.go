package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/config"
	"github.com/jupark12/jobdesc-ingest/models"
	"github.com/jupark12/jobdesc-ingest/queue"
	"github.com/jupark12/jobdesc-ingest/storage"
	"github.com/jupark12/jobdesc-ingest/worker"
)

// Options configures the HTTP surface and the worker pool
type Options struct {
	Addr            string
	Container       string
	SASExpiry       time.Duration
	MultipartMemory int64
	AutoExtract     bool
	AllowOrigin     string
	Workers         int
	PollInterval    time.Duration
}

// Server handles HTTP requests for job uploads and job management
type Server struct {
	queue     *queue.JobQueue
	store     storage.BlobStore
	workers   []*worker.Worker
	opts      Options
	wsManager *models.WebSocketManager
	upgrader  websocket.Upgrader
	http      *http.Server
	logger    *zap.Logger
	newID     func() string
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewServer creates a new server instance. Workers are only created when extractor is non-nil.
func NewServer(q *queue.JobQueue, store storage.BlobStore, extractor worker.Extractor, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Container == "" {
		opts.Container = config.DefaultContainer
	}
	if opts.SASExpiry <= 0 {
		opts.SASExpiry = time.Hour
	}
	if opts.MultipartMemory <= 0 {
		opts.MultipartMemory = 32 << 20
	}
	if opts.AllowOrigin == "" {
		opts.AllowOrigin = "*"
	}

	server := &Server{
		queue:     q,
		store:     store,
		opts:      opts,
		wsManager: models.NewWebSocketManager(logger),
		logger:    logger,
		newID:     newJobID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if extractor != nil {
		for i := 0; i < opts.Workers; i++ {
			workerID := fmt.Sprintf("worker-%d", i+1)
			w := worker.NewWorker(workerID, q, extractor, opts.PollInterval, logger)
			w.SetNotifier(server.notifyJobUpdate)
			server.workers = append(server.workers, w)
		}
	}

	return server
}

// notifyJobUpdate is a callback for workers and handlers to broadcast job changes
func (s *Server) notifyJobUpdate(jobID string) {
	job, err := s.queue.GetJob(jobID)
	if err != nil {
		s.logger.Warn("failed to get job for notification", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	s.wsManager.BroadcastJobUpdate(job)
}

// Handler returns the routed handler wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload_job", s.handleUploadJob)
	mux.HandleFunc("POST /extract_job", s.handleExtractJob)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleJobDetails)
	mux.HandleFunc("GET /workers", s.handleWorkers)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.opts.AllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start binds the listener, then serves HTTP and runs the workers in the background
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wsManager.Start()

	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	for _, w := range s.workers {
		done := w.Start(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			<-done
		}()
	}

	return nil
}

// Shutdown stops accepting requests, stops the workers and waits for them to return
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wsManager.Stop()
	s.wg.Wait()
	return err
}

// handleJobs lists jobs, optionally filtered by ?status=
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" {
		switch models.JobStatus(status) {
		case models.StatusUploaded, models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed:
			writeJSON(w, http.StatusOK, s.queue.GetJobsByStatus(models.JobStatus(status)))
		default:
			http.Error(w, "Invalid status parameter", http.StatusBadRequest)
		}
		return
	}

	writeJSON(w, http.StatusOK, s.queue.GetAllJobs())
}

// handleJobDetails returns one job
func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

type workerStatus struct {
	ID         string `json:"id"`
	Processing bool   `json:"processing"`
}

// handleWorkers reports which workers are busy
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	statuses := make([]workerStatus, 0, len(s.workers))
	for _, wk := range s.workers {
		statuses = append(statuses, workerStatus{ID: wk.ID, Processing: wk.IsProcessing()})
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleWebSocket streams job updates
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade to websocket", zap.Error(err))
		return
	}

	initialData, err := json.Marshal(map[string]interface{}{
		"type": "initial_jobs",
		"jobs": s.queue.GetAllJobs(),
	})
	if err == nil {
		conn.WriteMessage(websocket.TextMessage, initialData)
	}

	s.wsManager.RegisterClient(conn)

	// Clients only listen; reading detects disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.wsManager.UnregisterClient(conn)
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}
