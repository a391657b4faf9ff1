package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	logx "wabulk/pkg/logx"
)

// redisStore keeps records as JSON strings on a list; RPUSH preserves order.
type redisStore struct {
	client *redis.Client
	key    string
	log    logx.Logger
}

func openRedis(addr, key string, log logx.Logger) (Store, error) {
	if addr == "" {
		return nil, errors.New("audit.redis_addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{client: client, key: key, log: log}, nil
}

func (s *redisStore) Append(ctx context.Context, r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.key, b).Err()
}

func (s *redisStore) ReadAll(ctx context.Context) ([]Record, error) {
	vals, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(vals))
	for i, v := range vals {
		var r Record
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("audit record %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *redisStore) Close() error { return s.client.Close() }
