package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/puzzle-records/internal/domain"
	"github.com/redis/go-redis/v9"
)

const rankingPattern = "ranking:*"

// RankingCache keeps one sorted set of verified entries per board. It is a
// read accelerator over the ledger and may be rebuilt from it at any time.
type RankingCache struct {
	client  *redis.Client
	catalog *domain.Catalog
	logger  *slog.Logger
}

// NewRankingCache creates a ranked cache that orders boards by the catalog.
func NewRankingCache(client *redis.Client, catalog *domain.Catalog, logger *slog.Logger) *RankingCache {
	return &RankingCache{
		client:  client,
		catalog: catalog,
		logger:  logger,
	}
}

// rankingKey returns the Redis key for a board's sorted set
func rankingKey(game, level string) string {
	return fmt.Sprintf("ranking:%s:%s", game, level)
}

// Ping checks the Redis connection
func (c *RankingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RankingCache) member(rec domain.Record) (redis.Z, error) {
	encoded, err := EncodeEntry(domain.EntryOf(rec))
	if err != nil {
		return redis.Z{}, err
	}
	score := float64(rec.ClearTime)
	if c.catalog.Order(rec.GameName) == domain.OrderScoreDesc {
		score = float64(rec.Score)
	}
	return redis.Z{Score: score, Member: encoded}, nil
}

// InsertEntry adds a verified record to its board. Unverified records are
// ignored, and adding the same record twice leaves one member.
func (c *RankingCache) InsertEntry(ctx context.Context, rec domain.Record) error {
	if !rec.IsVerified {
		return nil
	}
	z, err := c.member(rec)
	if err != nil {
		return err
	}
	if err := c.client.ZAdd(ctx, rankingKey(rec.GameName, rec.Level), z).Err(); err != nil {
		return fmt.Errorf("adding ranking entry: %w", err)
	}
	return nil
}

// InsertEntries adds many verified records using pipelining
func (c *RankingCache) InsertEntries(ctx context.Context, recs []domain.Record) error {
	pipe := c.client.Pipeline()
	queued := 0
	for _, rec := range recs {
		if !rec.IsVerified {
			continue
		}
		z, err := c.member(rec)
		if err != nil {
			return err
		}
		pipe.ZAdd(ctx, rankingKey(rec.GameName, rec.Level), z)
		queued++
	}
	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch adding ranking entries: %w", err)
	}
	return nil
}

// ReplaceBoard atomically swaps a board's contents for the given records.
func (c *RankingCache) ReplaceBoard(ctx context.Context, game, level string, recs []domain.Record) error {
	key := rankingKey(game, level)
	members := make([]redis.Z, 0, len(recs))
	for _, rec := range recs {
		if !rec.IsVerified {
			continue
		}
		z, err := c.member(rec)
		if err != nil {
			return err
		}
		members = append(members, z)
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing board %s: %w", key, err)
	}
	return nil
}

// Ranking returns the board's verified entries in canonical order. Members
// that fail to decode are skipped, and identical entries count once. A
// non-positive limit returns every entry.
func (c *RankingCache) Ranking(ctx context.Context, game, level string, limit int) ([]domain.Record, error) {
	key := rankingKey(game, level)
	members, err := c.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading ranking: %w", err)
	}

	seen := make(map[domain.LeaderboardEntry]struct{}, len(members))
	records := make([]domain.Record, 0, len(members))
	for _, m := range members {
		e, err := DecodeEntry(m)
		if err != nil {
			c.logger.Warn("skipping malformed ranking member", "key", key, "error", err)
			continue
		}
		if !e.IsVerified {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		records = append(records, e.Record(game, level))
	}

	domain.SortRecords(c.catalog.Order(game), records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// RenameUser rewrites every cached entry of user to carry nickname and
// returns how many members changed. Each member is swapped in one
// transaction so readers never see it missing or doubled.
func (c *RankingCache) RenameUser(ctx context.Context, user, nickname string) (int, error) {
	renamed := 0
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, rankingPattern, 100).Result()
		if err != nil {
			return renamed, fmt.Errorf("scanning rankings: %w", err)
		}
		for _, key := range keys {
			n, err := c.renameInBoard(ctx, key, user, nickname)
			renamed += n
			if err != nil {
				return renamed, err
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return renamed, nil
}

func (c *RankingCache) renameInBoard(ctx context.Context, key, user, nickname string) (int, error) {
	members, err := c.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}

	renamed := 0
	for _, z := range members {
		old, ok := z.Member.(string)
		if !ok {
			continue
		}
		e, err := DecodeEntry(old)
		if err != nil || e.UserID != user || e.Nickname == nickname {
			continue
		}
		e.Nickname = nickname
		updated, err := EncodeEntry(e)
		if err != nil {
			return renamed, err
		}

		_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, key, redis.Z{Score: z.Score, Member: updated})
			pipe.ZRem(ctx, key, old)
			return nil
		})
		if err != nil {
			return renamed, fmt.Errorf("renaming member in %s: %w", key, err)
		}
		renamed++
	}
	return renamed, nil
}
