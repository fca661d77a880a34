package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/models"
)

// RedisStore keeps each job as JSON under {prefix}:job:{id} and the ids in {prefix}:jobs
type RedisStore struct {
	Client *redis.Client
	Prefix string
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{Client: client, Prefix: prefix, logger: logger}
}

func (s *RedisStore) Save(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}

	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(job.ID), data, 0)
		pipe.SAdd(ctx, s.indexKey(), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) LoadAll(ctx context.Context) ([]*models.Job, error) {
	ids, err := s.Client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}
	if len(ids) == 0 {
		return []*models.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	values, err := s.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.logger.Warn("job listed without data", zap.String("job_id", ids[i]))
			continue
		}
		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			s.logger.Warn("failed to unmarshal job data", zap.String("job_id", ids[i]), zap.Error(err))
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

func (s *RedisStore) jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", s.Prefix, jobID)
}

func (s *RedisStore) indexKey() string {
	return fmt.Sprintf("%s:jobs", s.Prefix)
}
