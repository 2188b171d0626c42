package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "kafnotif:status:"

// Redis stores records as JSON strings that expire after ttl.
type Redis struct {
	db  redis.UniversalClient
	ttl time.Duration
}

// DialRedis parses url, connects and pings.
func DialRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("status: parse redis url: %w", err)
	}
	cl := redis.NewClient(opt)
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("status: redis not ready: %w", err)
	}
	return NewRedis(cl, ttl), nil
}

func NewRedis(db redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{db: db, ttl: ttl}
}

func (r *Redis) Put(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Set(ctx, keyPrefix+rec.ID, raw, r.ttl).Err()
}

func (r *Redis) Get(ctx context.Context, id string) (Record, error) {
	raw, err := r.db.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("status: corrupt record %s: %w", id, err)
	}
	return rec, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.db.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.db.Close() }
