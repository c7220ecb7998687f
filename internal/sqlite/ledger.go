// Package sqlite provides an embedded SQLite ledger for single-node
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/puzzle-records/internal/domain"

	_ "modernc.org/sqlite" // SQLite driver.
)

const memoryPath = ":memory:"

// Ledger persists attempt records in SQLite.
type Ledger struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens or creates the database at path. ":memory:" opens a private
// in-memory database pinned to a single connection.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := memoryPath
	if path != memoryPath {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &Ledger{db: db, now: time.Now, logger: logger}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() {
	if err := l.db.Close(); err != nil {
		l.logger.Warn("closing sqlite ledger", "error", err)
	}
}

// Ping checks the database handle
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Migrate creates the schema when missing.
func (l *Ledger) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS game_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			game_name TEXT NOT NULL,
			level TEXT NOT NULL,
			user_uuid TEXT NOT NULL,
			nickname TEXT NOT NULL,
			clear_time INTEGER NOT NULL,
			score INTEGER NOT NULL DEFAULT 0,
			mistake_count INTEGER NOT NULL DEFAULT 0,
			hint_count INTEGER NOT NULL DEFAULT 0,
			is_verified INTEGER NOT NULL DEFAULT 0,
			user_ip TEXT NOT NULL DEFAULT '',
			insert_ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ranking ON game_records(game_name, level, is_verified, clear_time);`,
		`CREATE INDEX IF NOT EXISTS idx_history ON game_records(user_uuid, game_name, level, insert_ts);`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	l.logger.Info("sqlite migrations completed")
	return nil
}

// InsertRecord appends a record and returns its id and insertion instant.
func (l *Ledger) InsertRecord(ctx context.Context, rec domain.Record) (int64, time.Time, error) {
	insertedAt := fromMillis(toMillis(l.now()))
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO game_records (
		   game_name, level, user_uuid, nickname, clear_time, score,
		   mistake_count, hint_count, is_verified, user_ip, insert_ts
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		toMillis(insertedAt),
	)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("inserting record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("reading record id: %w", err)
	}
	return id, insertedAt, nil
}

func orderClause(order domain.RankOrder) string {
	if order == domain.OrderScoreDesc {
		return "score DESC, clear_time ASC, id ASC"
	}
	return "clear_time ASC, mistake_count ASC, hint_count ASC, id ASC"
}

const recordColumns = `id, game_name, level, user_uuid, nickname, clear_time, score,
	mistake_count, hint_count, is_verified, user_ip, insert_ts`

// Ranking returns the best verified records of a board.
func (l *Ledger) Ranking(ctx context.Context, game, level string, order domain.RankOrder, limit int) ([]domain.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM game_records
		WHERE game_name = ? AND level = ? AND is_verified = 1
		ORDER BY ` + orderClause(order) + `
		LIMIT ?`
	rows, err := l.db.QueryContext(ctx, query, game, level, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ranking: %w", err)
	}
	return scanRecords(rows)
}

// History returns a player's attempts on a board, newest first.
func (l *Ledger) History(ctx context.Context, game, level, user string, limit int) ([]domain.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM game_records
		WHERE user_uuid = ? AND game_name = ? AND level = ?
		ORDER BY insert_ts DESC, id DESC
		LIMIT ?`
	rows, err := l.db.QueryContext(ctx, query, user, game, level, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	return scanRecords(rows)
}

// UpdateNickname renames every record of a player.
func (l *Ledger) UpdateNickname(ctx context.Context, user, nickname string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE game_records SET nickname = ? WHERE user_uuid = ?`, nickname, user)
	if err != nil {
		return 0, fmt.Errorf("updating nickname: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}

// ListBoards returns every board holding at least one verified record.
func (l *Ledger) ListBoards(ctx context.Context) ([]domain.Board, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT DISTINCT game_name, level FROM game_records
		 WHERE is_verified = 1 ORDER BY game_name, level`)
	if err != nil {
		return nil, fmt.Errorf("listing boards: %w", err)
	}
	defer rows.Close()

	var boards []domain.Board
	for rows.Next() {
		var b domain.Board
		if err := rows.Scan(&b.GameName, &b.Level); err != nil {
			return nil, fmt.Errorf("scanning board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating boards: %w", err)
	}
	return boards, nil
}

func scanRecords(rows *sql.Rows) ([]domain.Record, error) {
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		var (
			r        domain.Record
			insertTS int64
		)
		if err := rows.Scan(
			&r.ID,
			&r.GameName,
			&r.Level,
			&r.UserID,
			&r.Nickname,
			&r.ClearTime,
			&r.Score,
			&r.MistakeCount,
			&r.HintCount,
			&r.IsVerified,
			&r.UserIP,
			&insertTS,
		); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.InsertedAt = fromMillis(insertTS)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}
