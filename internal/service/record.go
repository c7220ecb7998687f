package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/puzzle-records/internal/config"
	"github.com/puzzle-records/internal/domain"
	"github.com/puzzle-records/internal/metrics"
	"github.com/puzzle-records/internal/verifier"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StatusSuccess is reported for every processed submission, verified or not.
const StatusSuccess = "success"

var tracer = otel.Tracer("github.com/puzzle-records/internal/service")

// SessionStore tracks play sessions
type SessionStore interface {
	StartSession(ctx context.Context, game, level, user string) (time.Time, error)
	SessionStart(ctx context.Context, game, level, user string) (time.Time, bool, error)
	RenewSession(ctx context.Context, game, level, user string) (bool, error)
}

// Ledger is the authoritative record store
type Ledger interface {
	InsertRecord(ctx context.Context, rec domain.Record) (int64, time.Time, error)
	Ranking(ctx context.Context, game, level string, order domain.RankOrder, limit int) ([]domain.Record, error)
	History(ctx context.Context, game, level, user string, limit int) ([]domain.Record, error)
	UpdateNickname(ctx context.Context, user, nickname string) (int64, error)
	ListBoards(ctx context.Context) ([]domain.Board, error)
	Ping(ctx context.Context) error
}

// RankingCache is the ranked read path over verified records
type RankingCache interface {
	InsertEntry(ctx context.Context, rec domain.Record) error
	InsertEntries(ctx context.Context, recs []domain.Record) error
	ReplaceBoard(ctx context.Context, game, level string, recs []domain.Record) error
	Ranking(ctx context.Context, game, level string, limit int) ([]domain.Record, error)
	RenameUser(ctx context.Context, user, nickname string) (int, error)
	Ping(ctx context.Context) error
}

// Verifiers resolves the verifier of a game
type Verifiers interface {
	Get(game string) verifier.Verifier
}

// Notifier is told about every newly accepted record.
type Notifier interface {
	NotifyRecord(rec domain.Record)
}

// Settings holds the submission and read policy
type Settings struct {
	MaxListLength int
	MinActionSpan time.Duration
	SpanBuffer    time.Duration
	DefaultLimit  int
	MaxLimit      int
	HistoryLimit  int
	BoardSize     int
}

// SettingsFromConfig extracts the service policy from the configuration
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxListLength: cfg.Submission.MaxListLength,
		MinActionSpan: cfg.Submission.MinActionSpan,
		SpanBuffer:    cfg.Submission.SpanBuffer,
		DefaultLimit:  cfg.Submission.DefaultLimit,
		MaxLimit:      cfg.Submission.MaxLimit,
		HistoryLimit:  cfg.Submission.HistoryLimit,
		BoardSize:     cfg.Cache.BoardSize,
	}
}

// RecordService judges submissions and serves rankings. The ledger is the
// source of truth; the cache is written after it and repaired from it.
type RecordService struct {
	sessions  SessionStore
	ledger    Ledger
	cache     RankingCache
	verifiers Verifiers
	catalog   *domain.Catalog
	settings  Settings
	notifier  Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewRecordService creates a new record service
func NewRecordService(
	sessions SessionStore,
	ledger Ledger,
	cache RankingCache,
	verifiers Verifiers,
	catalog *domain.Catalog,
	settings Settings,
	m *metrics.Metrics,
	logger *slog.Logger,
) *RecordService {
	return &RecordService{
		sessions:  sessions,
		ledger:    ledger,
		cache:     cache,
		verifiers: verifiers,
		catalog:   catalog,
		settings:  settings,
		metrics:   m,
		now:       time.Now,
		logger:    logger,
	}
}

// SetNotifier registers the receiver of accepted records
func (s *RecordService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Catalog returns the game whitelist
func (s *RecordService) Catalog() *domain.Catalog {
	return s.catalog
}

func (s *RecordService) checkBoard(game, level string) error {
	if !s.catalog.Allowed(game, level) {
		return fmt.Errorf("%w: %s/%s", domain.ErrUnknownBoard, game, level)
	}
	return nil
}

func (s *RecordService) checkSessionRequest(req domain.SessionRequest) error {
	if req.UserID == "" {
		return domain.ErrUserRequired
	}
	return s.checkBoard(req.GameName, req.Level)
}

// StartSession opens (or restarts) the play session of a player on a board.
func (s *RecordService) StartSession(ctx context.Context, req domain.SessionRequest) (time.Time, error) {
	if err := s.checkSessionRequest(req); err != nil {
		return time.Time{}, err
	}
	start, err := s.sessions.StartSession(ctx, req.GameName, req.Level, req.UserID)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return start, nil
}

// RenewSession extends a live session. It reports false when none exists.
func (s *RecordService) RenewSession(ctx context.Context, req domain.SessionRequest) (bool, error) {
	if err := s.checkSessionRequest(req); err != nil {
		return false, err
	}
	ok, err := s.sessions.RenewSession(ctx, req.GameName, req.Level, req.UserID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Submit judges one completion attempt. Client errors and store failures are
// returned as errors; a failed verification is a normal result with a zero
// record id, and nothing is stored for it.
func (s *RecordService) Submit(ctx context.Context, sub domain.Submission) (domain.Result, error) {
	ctx, span := tracer.Start(ctx, "RecordService.Submit", trace.WithAttributes(
		attribute.String("game", sub.GameName),
		attribute.String("level", sub.Level),
	))
	defer span.End()

	result, reason, err := s.submit(ctx, sub)
	switch {
	case err != nil && domain.IsClientError(err):
		s.metrics.Submissions.WithLabelValues(sub.GameName, metrics.OutcomeInvalid).Inc()
		span.SetStatus(codes.Error, "invalid submission")
	case err != nil:
		s.metrics.Submissions.WithLabelValues(sub.GameName, metrics.OutcomeError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failure")
		s.logger.Error("submission failed", "game", sub.GameName, "level", sub.Level, "user", sub.UserID, "error", err)
	case reason != ReasonAccepted:
		s.metrics.Submissions.WithLabelValues(sub.GameName, metrics.OutcomeRejected).Inc()
		s.metrics.Rejections.WithLabelValues(string(reason)).Inc()
		span.SetAttributes(attribute.String("rejection", string(reason)))
		s.logger.Info("submission rejected", "game", sub.GameName, "level", sub.Level, "user", sub.UserID, "reason", reason)
	default:
		s.metrics.Submissions.WithLabelValues(sub.GameName, metrics.OutcomeVerified).Inc()
		span.SetAttributes(attribute.Int64("record_id", result.RecordID))
	}
	return result, err
}

func (s *RecordService) submit(ctx context.Context, sub domain.Submission) (domain.Result, Reason, error) {
	if err := s.validate(&sub); err != nil {
		return domain.Result{}, "", err
	}
	rejected := domain.Result{Status: StatusSuccess}

	start, ok, err := s.sessions.SessionStart(ctx, sub.GameName, sub.Level, sub.UserID)
	if err != nil {
		return domain.Result{}, "", fmt.Errorf("%w: reading session: %v", domain.ErrStoreUnavailable, err)
	}
	if !ok {
		return rejected, ReasonNoSession, nil
	}
	if s.now().Sub(start).Milliseconds() < int64(sub.ClearTime)*1000 {
		return rejected, ReasonTooFast, nil
	}

	if reason := s.judge(&sub); reason != ReasonAccepted {
		return rejected, reason, nil
	}

	rec := sub.Record()
	rec.IsVerified = true
	id, insertedAt, err := s.ledger.InsertRecord(ctx, rec)
	if err != nil {
		return domain.Result{}, "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	rec.ID = id
	rec.InsertedAt = insertedAt

	if err := s.cache.InsertEntry(ctx, rec); err != nil {
		s.metrics.CacheFailures.WithLabelValues("insert").Inc()
		s.logger.Warn("caching verified record failed", "record_id", id, "game", rec.GameName, "level", rec.Level, "error", err)
	}
	if s.notifier != nil {
		s.notifier.NotifyRecord(rec)
	}

	return domain.Result{RecordID: id, Status: StatusSuccess, IsVerified: true}, ReasonAccepted, nil
}

// judge runs the evidence checks that need no store.
func (s *RecordService) judge(sub *domain.Submission) Reason {
	if !CheckActionLog(sub.ActionLog, sub.ClearTime, s.settings.MinActionSpan, s.settings.SpanBuffer) {
		return ReasonActionLog
	}
	if len(sub.WrongAnswers) != sub.MistakeCount || len(sub.HintEvents) != sub.HintCount {
		return ReasonCountMismatch
	}
	if !s.verifiers.Get(sub.GameName).Verify(&sub.Payload) {
		return ReasonVerifier
	}
	return ReasonAccepted
}

func (s *RecordService) validate(sub *domain.Submission) error {
	if sub.ClearTime <= 0 || sub.ClearTime > domain.MaxMetric {
		return fmt.Errorf("%w: clear_time %d", domain.ErrInvalidMetric, sub.ClearTime)
	}
	for _, n := range []int{sub.MistakeCount, sub.HintCount, sub.Score} {
		if n < 0 || n > domain.MaxMetric {
			return domain.ErrInvalidMetric
		}
	}
	if sub.UserID == "" {
		return domain.ErrUserRequired
	}
	if utf8.RuneCountInString(sub.Nickname) > domain.MaxNicknameLength {
		return domain.ErrNicknameTooLong
	}
	if err := s.checkBoard(sub.GameName, sub.Level); err != nil {
		return err
	}
	maxLen := s.settings.MaxListLength
	for name, n := range map[string]int{
		"answers":       len(sub.Answers),
		"wrong_answers": len(sub.WrongAnswers),
		"hint_events":   len(sub.HintEvents),
		"action_log":    len(sub.ActionLog),
	} {
		if n > maxLen {
			return fmt.Errorf("%w: %s has %d entries, max %d", domain.ErrListTooLong, name, n, maxLen)
		}
	}
	return nil
}

func (s *RecordService) clampLimit(limit, ceiling int) (int, error) {
	if limit <= 0 {
		return 0, domain.ErrInvalidLimit
	}
	if ceiling > 0 && limit > ceiling {
		limit = ceiling
	}
	return limit, nil
}

// DefaultLimit is used when a ranked or history read names no limit
func (s *RecordService) DefaultLimit() int {
	return s.settings.DefaultLimit
}

// Ranking returns the top of a board. The cache is read first; a miss or a
// cache failure falls back to the ledger and repopulates the cache.
func (s *RecordService) Ranking(ctx context.Context, game, level string, limit int) ([]domain.RankEntry, error) {
	ctx, span := tracer.Start(ctx, "RecordService.Ranking", trace.WithAttributes(
		attribute.String("game", game),
		attribute.String("level", level),
	))
	defer span.End()

	limit, err := s.clampLimit(limit, s.settings.MaxLimit)
	if err != nil {
		return nil, err
	}
	if err := s.checkBoard(game, level); err != nil {
		return nil, err
	}

	cached, err := s.cache.Ranking(ctx, game, level, limit)
	switch {
	case err != nil:
		s.metrics.CacheReads.WithLabelValues("error").Inc()
		s.logger.Warn("ranked cache read failed, using ledger", "game", game, "level", level, "error", err)
	case len(cached) > 0:
		s.metrics.CacheReads.WithLabelValues("hit").Inc()
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return domain.RankRecords(cached), nil
	default:
		s.metrics.CacheReads.WithLabelValues("miss").Inc()
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	size := s.settings.BoardSize
	if size < limit {
		size = limit
	}
	records, err := s.ledger.Ranking(ctx, game, level, s.catalog.Order(game), size)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger read failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if len(records) > 0 {
		if err := s.cache.InsertEntries(ctx, records); err != nil {
			s.metrics.CacheFailures.WithLabelValues("repopulate").Inc()
			s.logger.Warn("repopulating ranked cache failed", "game", game, "level", level, "error", err)
		}
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return domain.RankRecords(records), nil
}

// Reconcile rebuilds one board of the cache from the ledger and returns the
// number of entries written.
func (s *RecordService) Reconcile(ctx context.Context, game, level string) (int, error) {
	ctx, span := tracer.Start(ctx, "RecordService.Reconcile", trace.WithAttributes(
		attribute.String("game", game),
		attribute.String("level", level),
	))
	defer span.End()

	records, err := s.ledger.Ranking(ctx, game, level, s.catalog.Order(game), s.settings.BoardSize)
	if err != nil {
		return 0, fmt.Errorf("reading ledger ranking: %w", err)
	}
	if err := s.cache.ReplaceBoard(ctx, game, level, records); err != nil {
		return 0, fmt.Errorf("replacing cached board: %w", err)
	}
	return len(records), nil
}

// ReconcileAll rebuilds every board the ledger holds verified records for.
// Failing boards are skipped and reported together.
func (s *RecordService) ReconcileAll(ctx context.Context) (int, error) {
	boards, err := s.ledger.ListBoards(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing boards: %w", err)
	}

	var errs []error
	done := 0
	for _, b := range boards {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.Reconcile(ctx, b.GameName, b.Level)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", b.GameName, b.Level, err))
			continue
		}
		done++
		s.logger.Debug("board reconciled", "game", b.GameName, "level", b.Level, "entries", n)
	}
	return done, errors.Join(errs...)
}

// UpdateNickname renames a player in the ledger and then in the cache. The
// cache rename is best effort and the returned count covers ledger rows.
func (s *RecordService) UpdateNickname(ctx context.Context, user, nickname string) (int64, error) {
	nickname = strings.TrimSpace(nickname)
	if user == "" {
		return 0, domain.ErrUserRequired
	}
	if nickname == "" {
		return 0, domain.ErrNicknameRequired
	}
	if utf8.RuneCountInString(nickname) > domain.MaxNicknameLength {
		return 0, domain.ErrNicknameTooLong
	}

	rows, err := s.ledger.UpdateNickname(ctx, user, nickname)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	renamed, err := s.cache.RenameUser(ctx, user, nickname)
	if err != nil {
		s.metrics.CacheFailures.WithLabelValues("rename").Inc()
		s.logger.Warn("renaming cached entries failed", "user", user, "renamed", renamed, "error", err)
	}
	return rows, nil
}

// History returns a player's attempts on a board, newest first.
func (s *RecordService) History(ctx context.Context, game, level, user string, limit int) ([]domain.Record, error) {
	limit, err := s.clampLimit(limit, s.settings.HistoryLimit)
	if err != nil {
		return nil, err
	}
	if user == "" {
		return nil, domain.ErrUserRequired
	}
	records, err := s.ledger.History(ctx, game, level, user, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return records, nil
}

// NewUser hands out a fresh identity whose nickname is the id prefix.
func (s *RecordService) NewUser() domain.User {
	id := uuid.NewString()
	return domain.User{UserID: id, Nickname: id[:8]}
}

// Ready checks both stores
func (s *RecordService) Ready(ctx context.Context) error {
	var errs []error
	if err := s.ledger.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ledger: %w", err))
	}
	if err := s.cache.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	return errors.Join(errs...)
}
