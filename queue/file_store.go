package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/models"
)

// FileStore keeps one JSON file per job in a directory
type FileStore struct {
	dataDir string
	logger  *zap.Logger
}

// NewFileStore creates the data directory if needed
func NewFileStore(dataDir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dataDir: dataDir, logger: logger}, nil
}

// Save writes job data to disk
func (s *FileStore) Save(ctx context.Context, job *models.Job) error {
	jobPath := filepath.Join(s.dataDir, job.ID+".json")

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}

	tmp := jobPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write job file: %w", err)
	}
	if err := os.Rename(tmp, jobPath); err != nil {
		return fmt.Errorf("failed to write job file: %w", err)
	}

	return nil
}

// LoadAll reads every job file in the data directory. Unreadable files are skipped.
func (s *FileStore) LoadAll(ctx context.Context) ([]*models.Job, error) {
	files, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	jobs := make([]*models.Job, 0, len(files))
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		jobPath := filepath.Join(s.dataDir, file.Name())
		data, err := os.ReadFile(jobPath)
		if err != nil {
			s.logger.Warn("failed to read job file", zap.String("path", jobPath), zap.Error(err))
			continue
		}

		var job models.Job
		if err := json.Unmarshal(data, &job); err != nil {
			s.logger.Warn("failed to unmarshal job data", zap.String("path", jobPath), zap.Error(err))
			continue
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}

func sortByCreated(jobs []*models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
