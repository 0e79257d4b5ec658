// Package snapshot persists the long-poll cursor in Redis so a restarted
// process resumes through backfill instead of starting cold.
package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulse/chat-sync/internal/longpoll"
)

const (
	// CursorPrefix is the Redis key prefix for per-account cursor hashes.
	CursorPrefix = "sync:cursor:"

	// CursorTTL bounds how stale a resumable cursor may be. A cursor older
	// than this would make the server reject the pts anyway, so letting it
	// expire forces a clean cold start.
	CursorTTL = 24 * time.Hour
)

// RedisStore keeps one cursor hash per account.
type RedisStore struct {
	client    *redis.Client
	accountID int64
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr string, accountID int64) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("snapshot: redis connection failed: %w", err)
	}

	return &RedisStore{client: client, accountID: accountID}, nil
}

func (s *RedisStore) key() string {
	return CursorPrefix + strconv.FormatInt(s.accountID, 10)
}

// Load returns the saved cursor, or a zero cursor when none is stored.
func (s *RedisStore) Load(ctx context.Context) (longpoll.Cursor, error) {
	fields, err := s.client.HGetAll(ctx, s.key()).Result()
	if err != nil {
		return longpoll.Cursor{}, fmt.Errorf("snapshot: load: %w", err)
	}
	if len(fields) == 0 {
		return longpoll.Cursor{}, nil
	}

	var cur longpoll.Cursor
	if raw, ok := fields["ts"]; ok {
		if cur.TS, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return longpoll.Cursor{}, fmt.Errorf("snapshot: load: bad ts %q", raw)
		}
	}
	if raw, ok := fields["pts"]; ok {
		if cur.PTS, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return longpoll.Cursor{}, fmt.Errorf("snapshot: load: bad pts %q", raw)
		}
	}
	return cur, nil
}

// Save stores the cursor and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, cur longpoll.Cursor) error {
	key := s.key()
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"ts":  strconv.FormatUint(cur.TS, 10),
		"pts": strconv.FormatUint(cur.PTS, 10),
	})
	pipe.Expire(ctx, key, CursorTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("snapshot: save: %w", err)
	}
	return nil
}

// Clear drops the stored cursor.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("snapshot: clear: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
