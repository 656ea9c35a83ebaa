// internal/storage/redis_journal.go
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cmatc13/lumenpay/internal/transaction"
	"github.com/cmatc13/lumenpay/pkg/errors"
)

const (
	// Record key prefix for storing submission records
	recordKeyPrefix = "submission:"

	// Per-account index of submission ids ordered by time
	accountIndexFormat = "account:%s:submissions"

	// DefaultRetention is how long records are kept
	DefaultRetention = 30 * 24 * time.Hour
)

// RedisOptions holds the connection settings shared by the journal and the lock
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	// Test connection
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisJournal stores submission records in Redis
type RedisJournal struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisJournal creates a journal on an existing client
func NewRedisJournal(client *redis.Client, retention time.Duration) *RedisJournal {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisJournal{client: client, retention: retention}
}

// Record stores a record and indexes it under its source account
func (j *RedisJournal) Record(ctx context.Context, rec *transaction.Record) error {
	data, err := rec.ToJSON()
	if err != nil {
		return err
	}

	index := fmt.Sprintf(accountIndexFormat, rec.SourceAccount)
	pipe := j.client.TxPipeline()
	pipe.Set(ctx, recordKeyPrefix+rec.ID, data, j.retention)
	pipe.ZAdd(ctx, index, &redis.Z{
		Score:  float64(rec.SubmittedAt.UnixNano()),
		Member: rec.ID,
	})
	pipe.ZRemRangeByScore(ctx, index, "-inf", fmt.Sprintf("(%d", time.Now().Add(-j.retention).UnixNano()))
	pipe.Expire(ctx, index, j.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store submission record: %w", err)
	}
	return nil
}

// Get retrieves a record by id. A missing or expired record wraps errors.ErrNotFound.
func (j *RedisJournal) Get(ctx context.Context, id string) (*transaction.Record, error) {
	data, err := j.client.Get(ctx, recordKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("submission record %s: %w", id, errors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return transaction.RecordFromJSON(data)
}

// List returns up to limit records for an account, newest first. Expired records are skipped.
func (j *RedisJournal) List(ctx context.Context, account string, limit int) ([]*transaction.Record, error) {
	if limit <= 0 {
		return []*transaction.Record{}, nil
	}

	ids, err := j.client.ZRevRange(ctx, fmt.Sprintf(accountIndexFormat, account), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*transaction.Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKeyPrefix + id
	}
	values, err := j.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*transaction.Record, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := transaction.RecordFromJSON([]byte(s))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
