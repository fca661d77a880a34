package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/common"
	"github.com/jupark12/jobdesc-ingest/models"
	"github.com/jupark12/jobdesc-ingest/queue"
	"github.com/jupark12/jobdesc-ingest/storage"
)

// submission is what a single upload request resolved to
type submission struct {
	name   string
	data   []byte
	label  string
	isFile bool
}

// handleUploadJob stores an inline text or file submission and answers with a signed read URL
func (s *Server) handleUploadJob(w http.ResponseWriter, r *http.Request) {
	jobID := s.newID()
	log := s.logger.With(zap.String("job_id", jobID))
	log.Info("upload.request", zap.String("content_type", r.Header.Get("Content-Type")))

	resp, err := s.uploadJob(r.Context(), r, jobID)
	if err != nil {
		status := common.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error("upload.failed", zap.Error(err))
			http.Error(w, "Server error: "+err.Error(), status)
			return
		}
		log.Info("upload.rejected", zap.Int("status", status), zap.Error(err))
		http.Error(w, err.Error(), status)
		return
	}

	log.Info("upload.stored", zap.String("blob_url", redactQuery(resp.BlobURL)))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) uploadJob(ctx context.Context, r *http.Request, jobID string) (*models.UploadResponse, error) {
	contentType := r.Header.Get("Content-Type")

	var (
		sub *submission
		err error
	)
	switch {
	case strings.Contains(contentType, "application/json"):
		sub, err = s.readText(r)
	case strings.Contains(contentType, "multipart/form-data"):
		sub, err = s.readFile(r)
	default:
		return nil, common.UnsupportedMediaError("Unsupported Content-Type")
	}
	if err != nil {
		return nil, err
	}

	container := s.opts.Container
	blobPath := storage.JobObjectPath(jobID, sub.name)
	if err := s.store.Upload(ctx, container, blobPath, sub.data); err != nil {
		return nil, common.StorageError("upload blob", err)
	}

	blobURL, err := s.store.SignedURL(container, blobPath, s.opts.SASExpiry)
	if err != nil {
		return nil, common.NewAppError(common.CodeInternal, "sign blob url", err)
	}

	s.recordUpload(ctx, jobID, container, blobPath, sub)

	return &models.UploadResponse{JobID: jobID, BlobURL: blobURL}, nil
}

func (s *Server) readText(r *http.Request) (*submission, error) {
	var body struct {
		RawText string `json:"raw_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, common.WrapError(err, "decode request body")
	}
	if body.RawText == "" {
		return nil, common.ClientError("Missing 'raw_text' field")
	}
	return &submission{name: storage.RawTextName, data: []byte(body.RawText)}, nil
}

func (s *Server) readFile(r *http.Request) (*submission, error) {
	if err := r.ParseMultipartForm(s.opts.MultipartMemory); err != nil {
		return nil, common.WrapError(err, "parse multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, common.ClientError("No file uploaded")
	}
	if err != nil {
		return nil, common.WrapError(err, "read file part")
	}
	defer file.Close()

	name, err := storage.CleanFileName(header.Filename)
	if err != nil {
		return nil, common.ClientError("Invalid file name")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, common.WrapError(err, "read uploaded file")
	}

	return &submission{
		name:   name,
		data:   data,
		label:  strings.TrimSpace(r.FormValue("label")),
		isFile: true,
	}, nil
}

// recordUpload registers the job and optionally queues extraction. Failures here
// are logged only; the object is already stored and the client gets its URL.
func (s *Server) recordUpload(ctx context.Context, jobID, container, blobPath string, sub *submission) {
	if s.queue == nil {
		return
	}
	if _, err := s.queue.Register(ctx, jobID, container, blobPath, sub.label); err != nil {
		s.logger.Warn("failed to register job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if s.opts.AutoExtract && sub.isFile && len(s.workers) > 0 {
		if _, err := s.queue.EnqueueExtraction(ctx, jobID, container, blobPath); err != nil {
			s.logger.Warn("failed to queue extraction", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	s.notifyJobUpdate(jobID)
}

// handleExtractJob queues extraction of an object that is already stored
func (s *Server) handleExtractJob(w http.ResponseWriter, r *http.Request) {
	if len(s.workers) == 0 {
		http.Error(w, "Extraction is not enabled on this server", http.StatusServiceUnavailable)
		return
	}

	var req models.ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.BlobPath == "" {
		http.Error(w, "Missing 'blob_path' field", http.StatusBadRequest)
		return
	}
	if req.Container == "" {
		req.Container = s.opts.Container
	}

	jobID := storage.JobIDFromPath(req.BlobPath)
	if jobID == "" {
		jobID = s.newID()
	}

	job, err := s.queue.EnqueueExtraction(r.Context(), jobID, req.Container, strings.TrimPrefix(req.BlobPath, "/"))
	switch {
	case errors.Is(err, queue.ErrJobBusy):
		http.Error(w, "Job is already queued or processing", http.StatusConflict)
		return
	case err != nil:
		s.logger.Error("failed to queue extraction", zap.String("job_id", jobID), zap.Error(err))
		http.Error(w, "Server error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.logger.Info("extraction queued", zap.String("job_id", jobID), zap.String("blob_path", job.SourcePath))
	s.notifyJobUpdate(jobID)
	writeJSON(w, http.StatusAccepted, job)
}

func redactQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

func newJobID() string {
	return uuid.New().String()
}
