package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"job-tracker-go/internal/models"
)

// DefaultKey is the Redis hash holding pending updates.
const DefaultKey = "jobsync:pending"

const maxWatchRetries = 10

var errStale = errors.New("stale status update")

// RedisStore is a PendingStore backed by a single Redis hash: field is the job
// id, value the JSON encoded event.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisClient creates and verifies a Redis client connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return rdb, nil
}

func NewRedisStore(rdb *redis.Client, key string, logger *zap.Logger) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, key: key, logger: logger.Named("pending")}
}

// Publish stores the event unless the hash already holds a newer one for the
// same job. The compare and set runs under WATCH so concurrent publishers
// cannot overwrite a newer event with an older one.
func (s *RedisStore) Publish(ctx context.Context, event models.StatusUpdateEvent) error {
	field := strconv.Itoa(event.JobID)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode status update: %w", err)
	}

	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, s.key, field).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var existing models.StatusUpdateEvent
			if json.Unmarshal([]byte(cur), &existing) == nil && !event.Newer(existing) {
				return errStale
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, field, payload)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, s.key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errStale):
			s.logger.Debug("Dropping older status update",
				zap.Int("job_id", event.JobID),
				zap.String("origin", event.Origin))
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("failed to publish status update: %w", err)
		}
	}
	return fmt.Errorf("failed to publish status update for job %d: too much contention", event.JobID)
}

// Drain reads and deletes the hash in one MULTI block.
func (s *RedisStore) Drain(ctx context.Context) (map[int]models.StatusUpdateEvent, error) {
	var all *redis.MapStringStringCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		all = pipe.HGetAll(ctx, s.key)
		pipe.Del(ctx, s.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain pending updates: %w", err)
	}

	out := make(map[int]models.StatusUpdateEvent, len(all.Val()))
	for field, raw := range all.Val() {
		var event models.StatusUpdateEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			s.logger.Warn("Skipping malformed pending entry", zap.String("field", field), zap.Error(err))
			continue
		}
		id, err := strconv.Atoi(field)
		if err != nil || id != event.JobID {
			s.logger.Warn("Skipping pending entry with mismatched job id", zap.String("field", field))
			continue
		}
		out[id] = event
	}
	return out, nil
}
