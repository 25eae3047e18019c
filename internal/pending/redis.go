package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vincentbai/browsetrace/internal/models"
)

// DefaultRedisKey is the hash holding the slot when no key is configured.
const DefaultRedisKey = "browsetrace:pending_exit"

const (
	fieldKey     = "key"
	fieldEvent   = "event"
	fieldSavedAt = "saved_at"
)

// RedisStore keeps the slot in a hash so several host processes can share it.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// maxSaveAttempts bounds the optimistic retries of Save when another writer
// touches the slot between the read and the write.
const maxSaveAttempts = 3

// Save compares against the current record under WATCH and writes in a
// MULTI block, so a concurrent newer Save is never overwritten.
func (s *RedisStore) Save(ctx context.Context, record Record) error {
	eventJSON, err := json.Marshal(record.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal pending event: %w", err)
	}

	save := func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx)
		switch {
		case errors.Is(err, ErrNoRecord):
		case err != nil:
			return err
		case !replaces(current, record):
			return ErrSuperseded
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// HSET replaces every field at once; the hash never mixes two records.
			pipe.HSet(ctx, s.key,
				fieldKey, record.Key,
				fieldEvent, string(eventJSON),
				fieldSavedAt, strconv.FormatInt(record.SavedAt.UnixMilli(), 10),
			)
			return nil
		})
		return err
	}

	for range maxSaveAttempts {
		err = s.client.Watch(ctx, save, s.key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, ErrSuperseded) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to save pending record: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (Record, error) {
	return s.load(ctx, s.client)
}

// hashReader is satisfied by both the client and a watched transaction.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *RedisStore) load(ctx context.Context, cmd hashReader) (Record, error) {
	values, err := cmd.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Record{}, fmt.Errorf("failed to load pending record: %w", err)
	}
	if len(values) == 0 || values[fieldKey] == "" {
		return Record{}, ErrNoRecord
	}

	var event models.Event
	if err := json.Unmarshal([]byte(values[fieldEvent]), &event); err != nil {
		return Record{}, fmt.Errorf("failed to decode pending event: %w", err)
	}
	savedAt, err := strconv.ParseInt(values[fieldSavedAt], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("failed to decode pending timestamp: %w", err)
	}
	return Record{Key: values[fieldKey], Event: event, SavedAt: time.UnixMilli(savedAt)}, nil
}

// ClearIf deletes the hash under WATCH so a Save racing with the check wins.
func (s *RedisStore) ClearIf(ctx context.Context, key string) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, s.key, fieldKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != key {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.key)
			return nil
		})
		return err
	}, s.key)
	if errors.Is(err, redis.TxFailedErr) {
		// the slot changed under us, so it holds a newer record
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to clear pending record: %w", err)
	}
	return nil
}
