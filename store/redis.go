package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/cameroncuttingedge/battleship/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisStore keeps each match as two msgpack-encoded keys written in a single
// MULTI/EXEC transaction.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Connected to redis match store")
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func primaryKey(matchID string) string   { return "match:" + matchID + ":primary" }
func secondaryKey(matchID string) string { return "match:" + matchID + ":secondary" }

func (s *RedisStore) Load(ctx context.Context, matchID string) (*models.Match, error) {
	vals, err := s.rdb.MGet(ctx, primaryKey(matchID), secondaryKey(matchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", matchID, err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return nil, ErrNotFound
	}

	var p Primary
	if err := decodeRedisValue(vals[0], &p); err != nil {
		return nil, fmt.Errorf("decode primary record: %w", err)
	}
	var sec Secondary
	if vals[1] != nil {
		if err := decodeRedisValue(vals[1], &sec); err != nil {
			return nil, fmt.Errorf("decode secondary record: %w", err)
		}
	}
	return Join(p, sec), nil
}

func (s *RedisStore) Save(ctx context.Context, m *models.Match) error {
	p, sec := Split(m)
	pb, err := msgpack.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode primary record: %w", err)
	}
	sb, err := msgpack.Marshal(sec)
	if err != nil {
		return fmt.Errorf("encode secondary record: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, primaryKey(m.ID), pb, 0)
		pipe.Set(ctx, secondaryKey(m.ID), sb, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save match %s: %w", m.ID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func decodeRedisValue(v interface{}, out interface{}) error {
	str, ok := v.(string)
	if !ok {
		return fmt.Errorf("unexpected redis value type %T", v)
	}
	return msgpack.Unmarshal([]byte(str), out)
}
