package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"posextract/pkg/contracts/domain"
)

const (
	defaultRedisPrefix    = "posextract:"
	defaultRedisTTL       = 7 * 24 * time.Hour
	defaultRedisActiveTTL = time.Hour
	redisUpdateRetries    = 8
)

// releaseActive deletes the active marker only if it still names ARGV[1].
const releaseActive = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`

// RedisStoreOptions configure key layout and expiry.
type RedisStoreOptions struct {
	Prefix string
	// TTL bounds how long finished job records are kept.
	TTL time.Duration
	// ActiveTTL bounds the admission marker so a crashed process cannot
	// block admission forever. It should exceed the job timeout.
	ActiveTTL time.Duration
}

// RedisJobStore shares jobs and the single-active-job marker across
// processes. Admission is a SET NX on the marker key.
type RedisJobStore struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	activeTTL time.Duration
}

// NewRedisJobStore wraps rdb.
func NewRedisJobStore(rdb *redis.Client, opts RedisStoreOptions) *RedisJobStore {
	if opts.Prefix == "" {
		opts.Prefix = defaultRedisPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultRedisTTL
	}
	if opts.ActiveTTL <= 0 {
		opts.ActiveTTL = defaultRedisActiveTTL
	}
	return &RedisJobStore{
		rdb:       rdb,
		prefix:    opts.Prefix,
		ttl:       opts.TTL,
		activeTTL: opts.ActiveTTL,
	}
}

// DialRedis connects and pings.
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (s *RedisJobStore) jobKey(id string) string {
	return s.prefix + "job:" + id
}

func (s *RedisJobStore) activeKey() string {
	return s.prefix + "active"
}

func (s *RedisJobStore) indexKey() string {
	return s.prefix + "jobs"
}

// TryAdmit claims the active marker and stores the job.
func (s *RedisJobStore) TryAdmit(ctx context.Context, job *domain.Job) error {
	if err := checkAdmittable(job); err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, s.activeKey(), job.ID, s.activeTTL).Result()
	if err != nil {
		return fmt.Errorf("claim active job marker: %w", err)
	}
	if !ok {
		holder, err := s.rdb.Get(ctx, s.activeKey()).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read active job marker: %w", err)
		}
		return &ConflictError{ActiveJobID: holder}
	}

	body, err := json.Marshal(job)
	if err != nil {
		s.release(ctx, job.ID)
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(job.ID), body, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.ID})
		return nil
	})
	if err != nil {
		s.release(ctx, job.ID)
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisJobStore) release(ctx context.Context, id string) {
	s.rdb.Eval(ctx, releaseActive, []string{s.activeKey()}, id)
}

// Update applies fn under WATCH, retrying on concurrent modification.
func (s *RedisJobStore) Update(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	key := s.jobKey(id)

	var out *domain.Job
	for i := 0; i < redisUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.decode(tx.Get(ctx, key))
			if err != nil {
				return err
			}
			next, err := applyUpdate(current, fn)
			if err != nil {
				return err
			}
			body, err := json.Marshal(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, body, s.ttl)
				if current.Status.IsActive() && !next.Status.IsActive() {
					pipe.Eval(ctx, releaseActive, []string{s.activeKey()}, id)
				} else if next.Status.IsActive() {
					pipe.Expire(ctx, s.activeKey(), s.activeTTL)
				}
				return nil
			})
			out = next
			return err
		}, key)

		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("update job %s: retries exhausted", id)
}

// Get retrieves a job by ID
func (s *RedisJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.decode(s.rdb.Get(ctx, s.jobKey(id)))
	if errors.Is(err, ErrJobNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job, err
}

func (s *RedisJobStore) decode(cmd *redis.StringCmd) (*domain.Job, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// List returns jobs matching the filter, newest first. Index entries whose
// record has expired are pruned.
func (s *RedisJobStore) List(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var (
		result []*domain.Job
		stale  []any
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", ids[i], err)
		}
		if filter.matches(&job) {
			result = append(result, &job)
		}
	}
	if len(stale) > 0 {
		s.rdb.ZRem(ctx, s.indexKey(), stale...)
	}
	return sortNewestFirst(result, filter.Limit), nil
}

// Delete removes a job and releases the marker if it held it.
func (s *RedisJobStore) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, s.jobKey(id)).Result()
	if err != nil {
		return err
	}
	s.rdb.ZRem(ctx, s.indexKey(), id)
	s.release(ctx, id)
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

// Close closes the client.
func (s *RedisJobStore) Close() error {
	return s.rdb.Close()
}
