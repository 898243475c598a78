package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue stores jobs in Redis so they survive restarts and can be
// consumed by several processes.
//
// Layout under the prefix bq:{name}:, where the braces make the queue
// name a cluster hash tag so one script's keys share a slot.
//
//	job:{id}   hash with the job fields
//	wait       list of ready ids (LPUSH in, RPOP out)
//	active     zset of reserved ids scored by lease deadline
//	delayed    zset of ids scored by the time they become ready
//	completed  zset scored by finish time
//	failed     zset scored by finish time
//	paused     flag key
//
// Every move between the list and the sets runs as one Lua script, so a
// crash can never leave a job outside all of them. Complete and Fail only
// apply while the caller still holds the lease: the id must be in active
// and attempts_made must match the attempt the caller reserved.
type RedisQueue struct {
	rdb    redis.UniversalClient
	name   string
	prefix string
	opts   Options
}

var (
	// KEYS: wait, active. ARGV: lease deadline ms, job key prefix.
	reserveScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then return false end
local key = ARGV[2] .. id
redis.call('ZADD', KEYS[2], ARGV[1], id)
redis.call('HINCRBY', key, 'attempts_made', 1)
redis.call('HSET', key, 'state', 'active')
return id
`)

	// KEYS: source zset, wait. ARGV: max score ms, job key prefix.
	promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
  redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

	// KEYS: active, target zset, job hash.
	// ARGV: id, attempt, state, score ms, last_error, time field.
	settleScript = redis.NewScript(`
if redis.call('HGET', KEYS[3], 'attempts_made') ~= ARGV[2] then return 0 end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
redis.call('HSET', KEYS[3], 'state', ARGV[3], 'last_error', ARGV[5], ARGV[6], ARGV[4])
return 1
`)
)

func NewRedisQueue(rdb redis.UniversalClient, name string, opts Options) *RedisQueue {
	return &RedisQueue{
		rdb:    rdb,
		name:   name,
		prefix: "bq:{" + name + "}:",
		opts:   opts.withDefaults(),
	}
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) key(k string) string     { return q.prefix + k }
func (q *RedisQueue) jobKey(id string) string { return q.prefix + "job:" + id }

func maxScore(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) (*Job, bool, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}

	claimed, err := q.rdb.HSetNX(ctx, q.jobKey(id), "id", id).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim job id %s: %w", id, err)
	}
	if !claimed {
		existing, err := q.load(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	now := q.opts.Now().UTC()
	j := &Job{
		ID:          id,
		Name:        name,
		Queue:       q.name,
		Payload:     raw,
		Headers:     opts.Headers,
		MaxAttempts: effectiveMaxAttempts(opts.MaxAttempts),
		Backoff:     opts.Backoff,
		State:       StateWaiting,
		CreatedAt:   now,
		ProcessAt:   now,
	}
	fields, err := jobFields(j)
	if err != nil {
		return nil, false, err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(id), fields)
		p.LPush(ctx, q.key("wait"), id)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	return j, true, nil
}

func (q *RedisQueue) Inspect(ctx context.Context, jobID string) (JobState, error) {
	state, err := q.rdb.HGet(ctx, q.jobKey(jobID), "state").Result()
	if errors.Is(err, redis.Nil) {
		return StateAbsent, nil
	}
	if err != nil {
		return "", fmt.Errorf("inspect job %s: %w", jobID, err)
	}
	return JobState(state), nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var waiting, active, delayed, completed, failed, paused *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		waiting = p.LLen(ctx, q.key("wait"))
		active = p.ZCard(ctx, q.key("active"))
		delayed = p.ZCard(ctx, q.key("delayed"))
		completed = p.ZCard(ctx, q.key("completed"))
		failed = p.ZCard(ctx, q.key("failed"))
		paused = p.Exists(ctx, q.key("paused"))
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Paused:    paused.Val() == 1,
	}, nil
}

func (q *RedisQueue) Reserve(ctx context.Context) (*Job, error) {
	now := q.opts.Now().UTC()
	if err := q.promote(ctx, "delayed", now); err != nil {
		return nil, err
	}
	if err := q.promote(ctx, "active", now); err != nil {
		return nil, err
	}

	paused, err := q.rdb.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return nil, fmt.Errorf("check paused: %w", err)
	}
	if paused == 1 {
		return nil, nil
	}

	deadline := now.Add(q.opts.LeaseTimeout).UnixMilli()
	id, err := reserveScript.Run(ctx, q.rdb,
		[]string{q.key("wait"), q.key("active")},
		deadline, q.key("job:"),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve job: %w", err)
	}
	return q.load(ctx, id)
}

func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	now := q.opts.Now().UTC()
	if err := q.settle(ctx, job, "completed", StateCompleted, now, "", "finished_at"); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return q.prune(ctx, "completed", now.Add(-q.opts.CompletedRetention), q.opts.CompletedMax)
}

func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	current, err := q.load(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if current.AttemptsMade != job.AttemptsMade {
		return false, fmt.Errorf("fail job %s: %w", job.ID, ErrLeaseLost)
	}
	now := q.opts.Now().UTC()
	terminal := isTerminal(current.AttemptsMade, current.MaxAttempts, cause)

	if terminal {
		err = q.settle(ctx, job, "failed", StateFailed, now, errorText(cause), "finished_at")
	} else {
		next := now.Add(current.Backoff.Next(current.AttemptsMade))
		err = q.settle(ctx, job, "delayed", StateDelayed, next, errorText(cause), "process_at")
	}
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if terminal {
		if err := q.prune(ctx, "failed", now.Add(-q.opts.FailedRetention), 0); err != nil {
			return true, err
		}
	}
	return terminal, nil
}

// settle moves a leased job from active into set, scored by at. It returns
// ErrLeaseLost when the lease expired and the job was requeued or taken by
// another consumer in the meantime.
func (q *RedisQueue) settle(ctx context.Context, job *Job, set string, state JobState, at time.Time, lastErr, timeField string) error {
	moved, err := settleScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key(set), q.jobKey(job.ID)},
		job.ID, job.AttemptsMade, string(state), at.UnixMilli(), lastErr, timeField,
	).Int()
	if err != nil {
		return err
	}
	if moved == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (q *RedisQueue) Pause(ctx context.Context) error {
	return q.rdb.Set(ctx, q.key("paused"), "1", 0).Err()
}

func (q *RedisQueue) Resume(ctx context.Context) error {
	return q.rdb.Del(ctx, q.key("paused")).Err()
}

// promote moves ids from the given zset whose score is due back onto the
// waiting list. Used for delayed retries and for expired leases.
func (q *RedisQueue) promote(ctx context.Context, set string, now time.Time) error {
	err := promoteScript.Run(ctx, q.rdb,
		[]string{q.key(set), q.key("wait")},
		now.UnixMilli(), q.key("job:"),
	).Err()
	if err != nil {
		return fmt.Errorf("requeue due %s jobs: %w", set, err)
	}
	return nil
}

// prune deletes finished jobs older than cutoff and, when max > 0, the
// oldest ones beyond max.
func (q *RedisQueue) prune(ctx context.Context, set string, cutoff time.Time, max int) error {
	expired, err := q.rdb.ZRangeByScore(ctx, q.key(set), &redis.ZRangeBy{Min: "-inf", Max: "(" + maxScore(cutoff)}).Result()
	if err != nil {
		return fmt.Errorf("scan %s jobs: %w", set, err)
	}
	if max > 0 {
		total, err := q.rdb.ZCard(ctx, q.key(set)).Result()
		if err != nil {
			return fmt.Errorf("count %s jobs: %w", set, err)
		}
		if over := total - int64(len(expired)) - int64(max); over > 0 {
			extra, err := q.rdb.ZRange(ctx, q.key(set), int64(len(expired)), int64(len(expired))+over-1).Result()
			if err != nil {
				return fmt.Errorf("scan %s jobs: %w", set, err)
			}
			expired = append(expired, extra...)
		}
	}
	if len(expired) == 0 {
		return nil
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range expired {
			p.ZRem(ctx, q.key(set), id)
			p.Del(ctx, q.jobKey(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("prune %s jobs: %w", set, err)
	}
	return nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Job, error) {
	h, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("load job %s: not found", id)
	}
	return parseJob(q.name, h)
}

func jobFields(j *Job) (map[string]any, error) {
	headers, err := json.Marshal(j.Headers)
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}
	return map[string]any{
		"id":               j.ID,
		"name":             j.Name,
		"payload":          string(j.Payload),
		"headers":          string(headers),
		"attempts_made":    j.AttemptsMade,
		"max_attempts":     j.MaxAttempts,
		"backoff_type":     string(j.Backoff.Type),
		"backoff_delay_ms": j.Backoff.Delay.Milliseconds(),
		"state":            string(j.State),
		"created_at":       j.CreatedAt.UnixMilli(),
		"process_at":       j.ProcessAt.UnixMilli(),
	}, nil
}

// parseJob tolerates missing fields: a hash claimed by a concurrent
// Enqueue may briefly hold only its id.
func parseJob(queueName string, h map[string]string) (*Job, error) {
	j := &Job{
		ID:        h["id"],
		Name:      h["name"],
		Queue:     queueName,
		State:     JobState(h["state"]),
		LastError: h["last_error"],
		Backoff:   Backoff{Type: BackoffType(h["backoff_type"])},
	}
	if p := h["payload"]; p != "" {
		j.Payload = json.RawMessage(p)
	}
	if hdr := h["headers"]; hdr != "" && hdr != "null" {
		if err := json.Unmarshal([]byte(hdr), &j.Headers); err != nil {
			return nil, fmt.Errorf("decode headers of job %s: %w", j.ID, err)
		}
	}
	j.AttemptsMade = atoi(h["attempts_made"])
	j.MaxAttempts = atoi(h["max_attempts"])
	j.Backoff.Delay = time.Duration(atoi64(h["backoff_delay_ms"])) * time.Millisecond
	j.CreatedAt = fromMillis(h["created_at"])
	j.ProcessAt = fromMillis(h["process_at"])
	if v := h["finished_at"]; v != "" {
		at := fromMillis(v)
		j.FinishedAt = &at
	}
	return j, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func fromMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	return time.UnixMilli(atoi64(s)).UTC()
}

var _ Queue = (*RedisQueue)(nil)
