package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore tracks when a player opened a board. One session exists per
// (game, level, user); starting again overwrites it, and expiry destroys it.
type SessionStore struct {
	client redis.Cmdable
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewSessionStore creates a session store whose sessions live for ttl.
func NewSessionStore(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// sessionKey returns the Redis key for a play session
func sessionKey(game, level, user string) string {
	return fmt.Sprintf("session:%s:%s:%s", game, level, user)
}

// StartSession records the current instant as the start of the session.
func (s *SessionStore) StartSession(ctx context.Context, game, level, user string) (time.Time, error) {
	start := s.now()
	value := strconv.FormatInt(start.UnixMilli(), 10)
	if err := s.client.Set(ctx, sessionKey(game, level, user), value, s.ttl).Err(); err != nil {
		return time.Time{}, fmt.Errorf("starting session: %w", err)
	}
	return time.UnixMilli(start.UnixMilli()), nil
}

// SessionExists reports whether a live session exists.
func (s *SessionStore) SessionExists(ctx context.Context, game, level, user string) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKey(game, level, user)).Result()
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return n > 0, nil
}

// SessionStart returns the start instant of a live session. A missing or
// unreadable session reports ok=false without an error.
func (s *SessionStore) SessionStart(ctx context.Context, game, level, user string) (time.Time, bool, error) {
	key := sessionKey(game, level, user)
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading session: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("unparsable session value", "key", key, "value", raw)
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// RenewSession extends the session lifetime without moving its start. It
// reports false when there is no session to renew.
func (s *SessionStore) RenewSession(ctx context.Context, game, level, user string) (bool, error) {
	ok, err := s.client.Expire(ctx, sessionKey(game, level, user), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("renewing session: %w", err)
	}
	return ok, nil
}
