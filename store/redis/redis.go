package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/psworks/scriptflow/store"
)

// RedisCheckpointStore implements store.CheckpointStore using Redis
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "scriptflow:"
	TTL      time.Duration // Expiration for checkpoints, default 0 (no expiration)
}

// saveScript performs the per-thread compare-and-swap atomically: the write is
// accepted only while the head key still holds the caller's parent id.
//
// KEYS[1] head key, KEYS[2] checkpoint key, KEYS[3] chain key
// ARGV[1] parent id, ARGV[2] checkpoint id, ARGV[3] payload, ARGV[4] ttl (ms)
var saveScript = redis.NewScript(`
local head = redis.call('GET', KEYS[1])
if head == false then head = '' end
if head ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[2], ARGV[3])
redis.call('SET', KEYS[1], ARGV[2])
redis.call('RPUSH', KEYS[3], ARGV[2])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	redis.call('PEXPIRE', KEYS[2], ARGV[4])
	redis.call('PEXPIRE', KEYS[3], ARGV[4])
end
return 1
`)

// NewRedisCheckpointStore creates a new Redis checkpoint store
func NewRedisCheckpointStore(opts RedisOptions) *RedisCheckpointStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "scriptflow:"
	}

	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// Close releases the underlying client connection
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

func (s *RedisCheckpointStore) checkpointKey(id string) string {
	return fmt.Sprintf("%scheckpoint:%s", s.prefix, id)
}

func (s *RedisCheckpointStore) headKey(threadID string) string {
	return fmt.Sprintf("%sthread:%s:head", s.prefix, threadID)
}

func (s *RedisCheckpointStore) chainKey(threadID string) string {
	return fmt.Sprintf("%sthread:%s:chain", s.prefix, threadID)
}

// Save stores a checkpoint, advancing the thread head via the Lua CAS script
func (s *RedisCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	keys := []string{
		s.headKey(checkpoint.ThreadID),
		s.checkpointKey(checkpoint.ID),
		s.chainKey(checkpoint.ThreadID),
	}

	ok, err := saveScript.Run(ctx, s.client, keys,
		checkpoint.ParentID,
		checkpoint.ID,
		data,
		s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	if ok == 0 {
		return store.ErrConflict
	}

	return nil
}

// Load retrieves a checkpoint by ID
func (s *RedisCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}

	var checkpoint store.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	return &checkpoint, nil
}

// Latest returns the thread's head checkpoint
func (s *RedisCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	head, err := s.client.Get(ctx, s.headKey(threadID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read thread head: %w", err)
	}

	return s.Load(ctx, head)
}

// History returns all checkpoints for a thread in chain order
func (s *RedisCheckpointStore) History(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	ids, err := s.client.LRange(ctx, s.chainKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read thread chain: %w", err)
	}

	if len(ids) == 0 {
		return []*store.Checkpoint{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.checkpointKey(id))
	}

	// MGet returns nil for expired entries, which we skip.
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkpoints: %w", err)
	}

	var checkpoints []*store.Checkpoint
	for _, result := range results {
		strData, ok := result.(string)
		if !ok {
			continue
		}

		var checkpoint store.Checkpoint
		if err := json.Unmarshal([]byte(strData), &checkpoint); err != nil {
			continue
		}
		checkpoints = append(checkpoints, &checkpoint)
	}

	return checkpoints, nil
}

// Delete removes a checkpoint. Deleting the head rewinds it to the previous
// entry in the chain.
func (s *RedisCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	checkpoint, err := s.Load(ctx, checkpointID)
	if err != nil {
		return err
	}

	chainKey := s.chainKey(checkpoint.ThreadID)
	headKey := s.headKey(checkpoint.ThreadID)

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.checkpointKey(checkpointID))
	pipe.LRem(ctx, chainKey, 0, checkpointID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	head, err := s.client.Get(ctx, headKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read thread head: %w", err)
	}
	if head == checkpointID {
		prev, err := s.client.LIndex(ctx, chainKey, -1).Result()
		switch {
		case err == redis.Nil:
			if err := s.client.Del(ctx, headKey).Err(); err != nil {
				return fmt.Errorf("failed to reset thread head: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to rewind thread head: %w", err)
		default:
			if err := s.client.Set(ctx, headKey, prev, s.ttl).Err(); err != nil {
				return fmt.Errorf("failed to rewind thread head: %w", err)
			}
		}
	}

	return nil
}

// Clear removes all checkpoints for a thread
func (s *RedisCheckpointStore) Clear(ctx context.Context, threadID string) error {
	chainKey := s.chainKey(threadID)
	ids, err := s.client.LRange(ctx, chainKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read thread chain for clearing: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.checkpointKey(id))
	}
	pipe.Del(ctx, chainKey)
	pipe.Del(ctx, s.headKey(threadID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}

	return nil
}
