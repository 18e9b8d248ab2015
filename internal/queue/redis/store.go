// Package redisqueue implements the durable queue store on Redis.
//
// Layout under the configured prefix:
//
//	<p>:session               string "1" while the session is open
//	<p>:pending:<vendor>      LIST of job ids, head first
//	<p>:pending:<vendor>:jobs HASH id -> job JSON for pending ids
//	<p>:ongoing               HASH id -> job JSON for dequeued, unfinished jobs
//
// Every mutator is a Lua script so the session check and the mutation commit
// together; Pop in particular moves a job from pending to ongoing in one step.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/control"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/queue"
)

// DefaultPrefix namespaces keys when none is configured.
const DefaultPrefix = "crawl"

const inactive = -1

var pushScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= '1' then return -1 end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
return redis.call('RPUSH', KEYS[2], ARGV[1])
`)

var popScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= '1' then return false end
local id
local payload
repeat
  id = redis.call('LPOP', KEYS[2])
  if not id then return false end
  payload = redis.call('HGET', KEYS[3], id)
  redis.call('HDEL', KEYS[3], id)
until payload
redis.call('HSET', KEYS[4], id, payload)
return {payload, redis.call('LLEN', KEYS[2])}
`)

var restoreScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= '1' then return -1 end
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
return redis.call('LPUSH', KEYS[2], ARGV[1])
`)

var finishScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= '1' then return -1 end
return redis.call('HDEL', KEYS[2], ARGV[1])
`)

// Config controls key naming.
type Config struct {
	Prefix string
}

// Store is a Redis-backed crawler.QueueStore. Backend errors are returned to
// the caller wrapped but otherwise untouched.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	announcer *queue.Announcer
	logger    *zap.Logger
}

// New wraps an existing client. The store does not own the client.
func New(client redis.UniversalClient, cfg Config, announcer *queue.Announcer, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:    client,
		prefix:    prefix,
		announcer: announcer,
		logger:    logger,
	}, nil
}

func (s *Store) sessionKey() string { return s.prefix + ":session" }

func (s *Store) pendingKey(vendor string) string { return s.prefix + ":pending:" + vendor }

func (s *Store) pendingJobsKey(vendor string) string { return s.pendingKey(vendor) + ":jobs" }

func (s *Store) ongoingKey() string { return s.prefix + ":ongoing" }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// IsActive reports whether the session flag is set.
func (s *Store) IsActive(ctx context.Context) (bool, error) {
	val, err := s.client.Get(ctx, s.sessionKey()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session flag: %w", err)
	}
	return val == "1", nil
}

// SetActive opens or closes the session.
func (s *Store) SetActive(ctx context.Context, active bool) error {
	var err error
	evtType := control.EventBegin
	if active {
		err = s.client.Set(ctx, s.sessionKey(), "1", 0).Err()
	} else {
		evtType = control.EventFinish
		err = s.client.Del(ctx, s.sessionKey()).Err()
	}
	if err != nil {
		return fmt.Errorf("write session flag: %w", err)
	}
	s.announcer.Announce(ctx, control.Event{Type: evtType})
	return nil
}

// Push appends job to the tail of its vendor's pending list.
func (s *Store) Push(ctx context.Context, job crawler.Job) error {
	payload, err := encode(job)
	if err != nil {
		return err
	}
	size, err := pushScript.Run(ctx, s.client,
		[]string{s.sessionKey(), s.pendingKey(job.Vendor), s.pendingJobsKey(job.Vendor)},
		job.ID, payload,
	).Int()
	if err != nil {
		return fmt.Errorf("push job %s: %w", job.ID, err)
	}
	if size == inactive {
		return nil
	}
	s.announcer.Mutation(ctx, queue.OpPush, job.Vendor, size)
	return nil
}

// Pop moves the head of vendor's pending list into the ongoing set.
func (s *Store) Pop(ctx context.Context, vendor string) (crawler.Job, bool, error) {
	res, err := popScript.Run(ctx, s.client,
		[]string{s.sessionKey(), s.pendingKey(vendor), s.pendingJobsKey(vendor), s.ongoingKey()},
	).Slice()
	if errors.Is(err, redis.Nil) {
		return crawler.Job{}, false, nil
	}
	if err != nil {
		return crawler.Job{}, false, fmt.Errorf("pop %s: %w", vendor, err)
	}
	if len(res) != 2 {
		return crawler.Job{}, false, fmt.Errorf("pop %s: unexpected reply %v", vendor, res)
	}
	payload, _ := res[0].(string)
	size, _ := res[1].(int64)
	job, err := decode(payload)
	if err != nil {
		return crawler.Job{}, false, err
	}
	s.announcer.Mutation(ctx, queue.OpPop, vendor, int(size))
	return job, true, nil
}

// Restore puts job at the head of its vendor's pending list and clears it
// from the ongoing set.
func (s *Store) Restore(ctx context.Context, job crawler.Job) error {
	payload, err := encode(job)
	if err != nil {
		return err
	}
	size, err := restoreScript.Run(ctx, s.client,
		[]string{s.sessionKey(), s.pendingKey(job.Vendor), s.pendingJobsKey(job.Vendor), s.ongoingKey()},
		job.ID, payload,
	).Int()
	if err != nil {
		return fmt.Errorf("restore job %s: %w", job.ID, err)
	}
	if size == inactive {
		return nil
	}
	s.announcer.Mutation(ctx, queue.OpRestore, job.Vendor, size)
	return nil
}

// Finish removes job from the ongoing set.
func (s *Store) Finish(ctx context.Context, job crawler.Job) error {
	if err := finishScript.Run(ctx, s.client,
		[]string{s.sessionKey(), s.ongoingKey()},
		job.ID,
	).Err(); err != nil {
		return fmt.Errorf("finish job %s: %w", job.ID, err)
	}
	return nil
}

// RestoreAll requeues every job left in the ongoing set by a previous
// process. Older ids are restored last so they end up nearest the head.
func (s *Store) RestoreAll(ctx context.Context) (int, error) {
	active, err := s.IsActive(ctx)
	if err != nil || !active {
		return 0, err
	}
	entries, err := s.client.HGetAll(ctx, s.ongoingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list ongoing jobs: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	restored := 0
	for _, id := range ids {
		job, err := decode(entries[id])
		if err != nil {
			s.logger.Error("skipping undecodable ongoing job", zap.String("job_id", id), zap.Error(err))
			continue
		}
		if err := s.Restore(ctx, job); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// PeekHead returns up to n jobs from the head of vendor's pending list.
func (s *Store) PeekHead(ctx context.Context, vendor string, n int) ([]crawler.Job, error) {
	if n <= 0 {
		return []crawler.Job{}, nil
	}
	ids, err := s.client.LRange(ctx, s.pendingKey(vendor), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", vendor, err)
	}
	if len(ids) == 0 {
		return []crawler.Job{}, nil
	}
	payloads, err := s.client.HMGet(ctx, s.pendingJobsKey(vendor), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("peek %s payloads: %w", vendor, err)
	}
	out := make([]crawler.Job, 0, len(payloads))
	for _, raw := range payloads {
		payload, ok := raw.(string)
		if !ok {
			continue
		}
		job, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Size returns the length of vendor's pending list.
func (s *Store) Size(ctx context.Context, vendor string) (int, error) {
	n, err := s.client.LLen(ctx, s.pendingKey(vendor)).Result()
	if err != nil {
		return 0, fmt.Errorf("size %s: %w", vendor, err)
	}
	return int(n), nil
}

// Ongoing returns the number of dequeued but unfinished jobs.
func (s *Store) Ongoing(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.ongoingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count ongoing: %w", err)
	}
	return int(n), nil
}

func encode(job crawler.Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return string(data), nil
}

func decode(payload string) (crawler.Job, error) {
	var job crawler.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return crawler.Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}
