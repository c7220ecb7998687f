package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/puzzle-records/internal/domain"
)

var errStoreDown = errors.New("store down")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sessionID(game, level, user string) string {
	return fmt.Sprintf("%s:%s:%s", game, level, user)
}

type fakeSessions struct {
	mu     sync.Mutex
	starts map[string]time.Time
	now    func() time.Time
	err    error
	reads  int
}

func newFakeSessions(now func() time.Time) *fakeSessions {
	return &fakeSessions{starts: map[string]time.Time{}, now: now}
}

func (f *fakeSessions) StartSession(_ context.Context, game, level, user string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, f.err
	}
	start := f.now()
	f.starts[sessionID(game, level, user)] = start
	return start, nil
}

func (f *fakeSessions) SessionStart(_ context.Context, game, level, user string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	start, ok := f.starts[sessionID(game, level, user)]
	return start, ok, nil
}

func (f *fakeSessions) RenewSession(_ context.Context, game, level, user string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.starts[sessionID(game, level, user)]
	return ok, nil
}

type fakeLedger struct {
	mu           sync.Mutex
	catalog      *domain.Catalog
	records      []domain.Record
	insertErr    error
	rankingErr   error
	updateErr    error
	boardsErr    error
	rankingCalls int
}

func (f *fakeLedger) InsertRecord(_ context.Context, rec domain.Record) (int64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, time.Time{}, f.insertErr
	}
	rec.ID = int64(len(f.records) + 1)
	rec.InsertedAt = time.Unix(1_800_000_000, 0)
	f.records = append(f.records, rec)
	return rec.ID, rec.InsertedAt, nil
}

func (f *fakeLedger) Ranking(_ context.Context, game, level string, order domain.RankOrder, limit int) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rankingCalls++
	if f.rankingErr != nil {
		return nil, f.rankingErr
	}
	var out []domain.Record
	for _, r := range f.records {
		if r.GameName == game && r.Level == level && r.IsVerified {
			out = append(out, r)
		}
	}
	domain.SortRecords(order, out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLedger) History(_ context.Context, game, level, user string, limit int) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rankingErr != nil {
		return nil, f.rankingErr
	}
	var out []domain.Record
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := f.records[i]
		if r.GameName == game && r.Level == level && r.UserID == user {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLedger) UpdateNickname(_ context.Context, user, nickname string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	var n int64
	for i := range f.records {
		if f.records[i].UserID == user {
			f.records[i].Nickname = nickname
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) ListBoards(_ context.Context) ([]domain.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.boardsErr != nil {
		return nil, f.boardsErr
	}
	seen := map[domain.Board]bool{}
	var out []domain.Board
	for _, r := range f.records {
		b := domain.Board{GameName: r.GameName, Level: r.Level}
		if r.IsVerified && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeLedger) Ping(context.Context) error { return f.rankingErr }

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeCache struct {
	mu        sync.Mutex
	catalog   *domain.Catalog
	boards    map[string][]domain.Record
	insertErr error
	readErr   error
	renameErr error
	replaced  int
}

func newFakeCache(catalog *domain.Catalog) *fakeCache {
	return &fakeCache{catalog: catalog, boards: map[string][]domain.Record{}}
}

func boardID(game, level string) string { return game + ":" + level }

func (f *fakeCache) add(rec domain.Record) {
	key := boardID(rec.GameName, rec.Level)
	for _, existing := range f.boards[key] {
		if domain.EntryOf(existing) == domain.EntryOf(rec) {
			return
		}
	}
	f.boards[key] = append(f.boards[key], rec)
}

func (f *fakeCache) InsertEntry(_ context.Context, rec domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if rec.IsVerified {
		f.add(rec)
	}
	return nil
}

func (f *fakeCache) InsertEntries(ctx context.Context, recs []domain.Record) error {
	for _, r := range recs {
		if err := f.InsertEntry(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCache) ReplaceBoard(_ context.Context, game, level string, recs []domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.replaced++
	delete(f.boards, boardID(game, level))
	for _, r := range recs {
		if r.IsVerified {
			f.add(r)
		}
	}
	return nil
}

func (f *fakeCache) Ranking(_ context.Context, game, level string, limit int) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := append([]domain.Record(nil), f.boards[boardID(game, level)]...)
	domain.SortRecords(f.catalog.Order(game), out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCache) RenameUser(_ context.Context, user, nickname string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renameErr != nil {
		return 0, f.renameErr
	}
	n := 0
	for key, recs := range f.boards {
		for i := range recs {
			if recs[i].UserID == user {
				recs[i].Nickname = nickname
				n++
			}
		}
		f.boards[key] = recs
	}
	return n, nil
}

func (f *fakeCache) Ping(context.Context) error { return f.readErr }

func (f *fakeCache) size(game, level string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.boards[boardID(game, level)])
}

type recordingNotifier struct {
	mu      sync.Mutex
	records []domain.Record
}

func (n *recordingNotifier) NotifyRecord(rec domain.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, rec)
}
