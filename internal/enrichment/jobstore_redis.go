package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-intel/internal/model"
)

const (
	redisJobPrefix = "opportunity:job:"
	redisJobIndex  = "opportunity:jobs"
)

// RedisJobStore keeps jobs in Redis so status survives restarts and can be
// read from other processes. Finished jobs expire after the retention
// window.
type RedisJobStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisJobStore wraps an existing client. A non-positive retention keeps
// finished jobs forever.
func NewRedisJobStore(client redis.UniversalClient, retention time.Duration) *RedisJobStore {
	return &RedisJobStore{client: client, retention: retention}
}

// OpenRedisJobStore connects to a redis:// or rediss:// URL and verifies the
// connection.
func OpenRedisJobStore(ctx context.Context, url string, retention time.Duration) (*RedisJobStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: parse redis url")
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "enrichment: ping redis")
	}
	return NewRedisJobStore(client, retention), nil
}

// Put writes the job and indexes it by creation time.
func (r *RedisJobStore) Put(ctx context.Context, job model.BatchJob) error {
	if job.ID == "" {
		return eris.New("enrichment: job id is required")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrapf(err, "enrichment: encode job %s", job.ID)
	}

	var ttl time.Duration
	if job.Status.Finished() && r.retention > 0 {
		ttl = r.retention
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisJobPrefix+job.ID, data, ttl)
	pipe.ZAdd(ctx, redisJobIndex, redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(err, "enrichment: store job %s", job.ID)
	}
	return nil
}

// Get loads one job.
func (r *RedisJobStore) Get(ctx context.Context, id string) (model.BatchJob, error) {
	data, err := r.client.Get(ctx, redisJobPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.BatchJob{}, eris.Wrapf(ErrJobNotFound, "enrichment: job %s", id)
	}
	if err != nil {
		return model.BatchJob{}, eris.Wrapf(err, "enrichment: load job %s", id)
	}
	var job model.BatchJob
	if err := json.Unmarshal(data, &job); err != nil {
		return model.BatchJob{}, eris.Wrapf(err, "enrichment: decode job %s", id)
	}
	return job, nil
}

// List returns all live jobs, newest first. Index entries whose job has
// expired are removed.
func (r *RedisJobStore) List(ctx context.Context) ([]model.BatchJob, error) {
	ids, err := r.client.ZRevRange(ctx, redisJobIndex, 0, -1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: list job ids")
	}
	if len(ids) == 0 {
		return []model.BatchJob{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisJobPrefix + id
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: load jobs")
	}

	jobs := make([]model.BatchJob, 0, len(vals))
	var expired []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var job model.BatchJob
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			return nil, eris.Wrapf(err, "enrichment: decode job %s", ids[i])
		}
		jobs = append(jobs, job)
	}
	if len(expired) > 0 {
		if err := r.client.ZRem(ctx, redisJobIndex, expired...).Err(); err != nil {
			return nil, eris.Wrap(err, "enrichment: drop expired job ids")
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

// Close closes the underlying client.
func (r *RedisJobStore) Close() error {
	return r.client.Close()
}
