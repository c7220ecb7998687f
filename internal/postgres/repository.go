package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/puzzle-records/internal/config"
	"github.com/puzzle-records/internal/domain"
)

// Repository is the PostgreSQL attempt ledger
type Repository struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(ctx context.Context, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	return NewRepositoryFromDSN(ctx, cfg.ConnectionString(), cfg, logger)
}

// NewRepositoryFromDSN connects using an explicit connection string. Pool
// sizing still comes from cfg.
func NewRepositoryFromDSN(ctx context.Context, dsn string, cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		poolConfig.MinConns = int32(cfg.MinConnections)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:         pool,
		queryTimeout: cfg.QueryTimeout,
		logger:       logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// Migrate executes database migrations
func (r *Repository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS game_records (
			id BIGSERIAL PRIMARY KEY,
			game_name VARCHAR(32) NOT NULL,
			level VARCHAR(16) NOT NULL,
			user_uuid VARCHAR(64) NOT NULL,
			nickname VARCHAR(50) NOT NULL,
			clear_time INT NOT NULL,
			score INT NOT NULL DEFAULT 0,
			mistake_count INT NOT NULL DEFAULT 0,
			hint_count INT NOT NULL DEFAULT 0,
			is_verified BOOLEAN NOT NULL DEFAULT FALSE,
			user_ip VARCHAR(45) NOT NULL DEFAULT '',
			insert_ts TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ranking ON game_records(game_name, level, is_verified, clear_time)`,
		`CREATE INDEX IF NOT EXISTS idx_history ON game_records(user_uuid, game_name, level, insert_ts DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// InsertRecord appends a record and returns the id and insert time assigned
// by the database.
func (r *Repository) InsertRecord(ctx context.Context, rec domain.Record) (int64, time.Time, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO game_records (game_name, level, user_uuid, nickname, clear_time, score, mistake_count, hint_count, is_verified, user_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, insert_ts
	`
	var (
		id         int64
		insertedAt time.Time
	)
	err := r.pool.QueryRow(ctx, query,
		rec.GameName,
		rec.Level,
		rec.UserID,
		rec.Nickname,
		rec.ClearTime,
		rec.Score,
		rec.MistakeCount,
		rec.HintCount,
		rec.IsVerified,
		rec.UserIP,
	).Scan(&id, &insertedAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("inserting record: %w", err)
	}
	return id, insertedAt, nil
}

func orderClause(order domain.RankOrder) string {
	if order == domain.OrderScoreDesc {
		return "score DESC, clear_time ASC, id ASC"
	}
	return "clear_time ASC, mistake_count ASC, hint_count ASC, id ASC"
}

const recordColumns = `id, game_name, level, user_uuid, nickname, clear_time, score, mistake_count, hint_count, is_verified, user_ip, insert_ts`

// Ranking returns the best verified records of a board
func (r *Repository) Ranking(ctx context.Context, game, level string, order domain.RankOrder, limit int) ([]domain.Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + recordColumns + `
		FROM game_records
		WHERE game_name = $1 AND level = $2 AND is_verified = TRUE
		ORDER BY ` + orderClause(order) + `
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, game, level, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ranking: %w", err)
	}
	return collectRecords(rows)
}

// History returns a player's attempts on a board, newest first
func (r *Repository) History(ctx context.Context, game, level, user string, limit int) ([]domain.Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + recordColumns + `
		FROM game_records
		WHERE user_uuid = $1 AND game_name = $2 AND level = $3
		ORDER BY insert_ts DESC, id DESC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, user, game, level, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	return collectRecords(rows)
}

// UpdateNickname renames every record of a player
func (r *Repository) UpdateNickname(ctx context.Context, user, nickname string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx, `UPDATE game_records SET nickname = $1 WHERE user_uuid = $2`, nickname, user)
	if err != nil {
		return 0, fmt.Errorf("updating nickname: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListBoards returns every board holding at least one verified record
func (r *Repository) ListBoards(ctx context.Context) ([]domain.Board, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT game_name, level
		FROM game_records
		WHERE is_verified = TRUE
		ORDER BY game_name, level
	`)
	if err != nil {
		return nil, fmt.Errorf("listing boards: %w", err)
	}
	boards, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Board, error) {
		var b domain.Board
		err := row.Scan(&b.GameName, &b.Level)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning boards: %w", err)
	}
	return boards, nil
}

func collectRecords(rows pgx.Rows) ([]domain.Record, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Record, error) {
		var rec domain.Record
		err := row.Scan(
			&rec.ID,
			&rec.GameName,
			&rec.Level,
			&rec.UserID,
			&rec.Nickname,
			&rec.ClearTime,
			&rec.Score,
			&rec.MistakeCount,
			&rec.HintCount,
			&rec.IsVerified,
			&rec.UserIP,
			&rec.InsertedAt,
		)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}
	if records == nil {
		records = []domain.Record{}
	}
	return records, nil
}
