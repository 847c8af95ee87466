package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/star-wheel/internal/model"
)

const replayKeyPrefix = "tg:auth_date:"

// RedisReplayLog keeps accepted Telegram auth dates in Redis.  SETNX makes
// Record atomic across every instance sharing the server, and a non-zero
// retention lets Redis prune old entries.
type RedisReplayLog struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisReplayLog returns a replay log on rdb.  retention <= 0 keeps keys
// forever.
func NewRedisReplayLog(rdb *redis.Client, retention time.Duration) *RedisReplayLog {
	if retention < 0 {
		retention = 0
	}
	return &RedisReplayLog{rdb: rdb, retention: retention}
}

func replayKey(authDate int64) string {
	return replayKeyPrefix + strconv.FormatInt(authDate, 10)
}

// HasSeen reports whether authDate was already recorded.
func (l *RedisReplayLog) HasSeen(ctx context.Context, authDate int64) (bool, error) {
	n, err := l.rdb.Exists(ctx, replayKey(authDate)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return n > 0, nil
}

// Record stores rec, returning ErrDuplicate when its auth date is taken.
func (l *RedisReplayLog) Record(ctx context.Context, rec model.ReplayRecord) error {
	val := strconv.FormatInt(rec.TelegramID, 10) + ":" + strconv.FormatInt(rec.SeenAt.UTC().Unix(), 10)
	ok, err := l.rdb.SetNX(ctx, replayKey(rec.AuthDate), val, l.retention).Result()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}
