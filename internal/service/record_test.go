package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/puzzle-records/internal/domain"
	"github.com/puzzle-records/internal/metrics"
	"github.com/puzzle-records/internal/verifier"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc      *RecordService
	sessions *fakeSessions
	ledger   *fakeLedger
	cache    *fakeCache
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func testSettings() Settings {
	return Settings{
		MaxListLength: 1000,
		MinActionSpan: time.Second,
		SpanBuffer:    5 * time.Second,
		DefaultLimit:  10,
		MaxLimit:      100,
		HistoryLimit:  50,
		BoardSize:     1000,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog := domain.NewCatalog(domain.DefaultGames())
	now := func() time.Time { return testNow }
	h := &harness{
		sessions: newFakeSessions(now),
		ledger:   &fakeLedger{catalog: catalog},
		cache:    newFakeCache(catalog),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	h.svc = NewRecordService(h.sessions, h.ledger, h.cache, verifier.NewRegistry(), catalog, testSettings(), h.metrics, discardLogger())
	h.svc.now = now
	h.svc.SetNotifier(h.notifier)
	return h
}

// startedAgo opens a session whose start lies d before the test clock.
func (h *harness) startedAgo(game, level, user string, d time.Duration) {
	h.sessions.starts[sessionID(game, level, user)] = testNow.Add(-d)
}

func solvedBoard() []int {
	board := make([]int, 81)
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			board[r*9+c] = (r*3+r/3+c)%9 + 1
		}
	}
	return board
}

func decodeSubmission(t *testing.T, raw map[string]any) domain.Submission {
	t.Helper()
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	var sub domain.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("decoding submission: %v", err)
	}
	return sub
}

func actionLog(ts ...int64) []map[string]any {
	out := make([]map[string]any, len(ts))
	for i, v := range ts {
		action := "place"
		switch i {
		case 0:
			action = "start"
		case len(ts) - 1:
			action = "submit"
		}
		out[i] = map[string]any{"ts": v, "action": action}
	}
	return out
}

func sudokuRaw(user string) map[string]any {
	return map[string]any{
		"game_name":     "sudoku",
		"level":         "easy",
		"user_uuid":     user,
		"nickname":      "ann",
		"clear_time":    120,
		"mistake_count": 0,
		"hint_count":    0,
		"user_ip":       "203.0.113.7",
		"answers":       []map[string]any{{"board": solvedBoard()}},
		"wrong_answers": []any{},
		"hint_events":   []any{},
		"action_log":    actionLog(0, 119500),
	}
}

func TestSubmitAcceptsVerifiedSudoku(t *testing.T) {
	h := newHarness(t)
	h.startedAgo("sudoku", "easy", "u1", 121*time.Second)

	res, err := h.svc.Submit(context.Background(), decodeSubmission(t, sudokuRaw("u1")))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.IsVerified || res.RecordID != 1 || res.Status != StatusSuccess {
		t.Fatalf("Submit = %+v, want verified record 1", res)
	}

	if h.ledger.count() != 1 || !h.ledger.records[0].IsVerified {
		t.Fatalf("ledger = %+v", h.ledger.records)
	}
	stored := h.ledger.records[0]
	if stored.Nickname != "ann" || stored.UserIP != "203.0.113.7" {
		t.Fatalf("stored record = %+v", stored)
	}
	if h.cache.size("sudoku", "easy") != 1 {
		t.Fatalf("verified record not cached")
	}
	if len(h.notifier.records) != 1 || h.notifier.records[0].ID != 1 {
		t.Fatalf("notifier got %+v", h.notifier.records)
	}
	if got := testutil.ToFloat64(h.metrics.Submissions.WithLabelValues("sudoku", metrics.OutcomeVerified)); got != 1 {
		t.Fatalf("verified counter = %v", got)
	}
}

func TestSubmitDefaultsNickname(t *testing.T) {
	h := newHarness(t)
	h.startedAgo("sudoku", "easy", "u1", time.Hour)
	raw := sudokuRaw("u1")
	delete(raw, "nickname")

	if _, err := h.svc.Submit(context.Background(), decodeSubmission(t, raw)); err != nil {
		t.Fatal(err)
	}
	if got := h.ledger.records[0].Nickname; got != domain.DefaultNickname {
		t.Fatalf("nickname = %q, want %q", got, domain.DefaultNickname)
	}
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name    string
		started time.Duration // zero means no session
		mutate  func(raw map[string]any)
		reason  Reason
	}{
		{name: "span below floor", started: 121 * time.Second, mutate: func(r map[string]any) { r["action_log"] = actionLog(0, 500) }, reason: ReasonActionLog},
		{name: "no session", reason: ReasonNoSession},
		{name: "faster than wall clock", started: 119 * time.Second, reason: ReasonTooFast},
		{name: "single log entry", started: time.Hour, mutate: func(r map[string]any) {
			r["action_log"] = []map[string]any{{"ts": 5000, "action": "submit"}}
		}, reason: ReasonActionLog},
		{name: "timestamps go back", started: time.Hour, mutate: func(r map[string]any) { r["action_log"] = actionLog(0, 90000, 80000, 100000) }, reason: ReasonActionLog},
		{name: "zero span", started: time.Hour, mutate: func(r map[string]any) { r["action_log"] = actionLog(7000, 7000) }, reason: ReasonActionLog},
		{name: "span beyond clear time and buffer", started: time.Hour, mutate: func(r map[string]any) { r["action_log"] = actionLog(0, 125001) }, reason: ReasonActionLog},
		{name: "mistakes without evidence", started: time.Hour, mutate: func(r map[string]any) { r["mistake_count"] = 1 }, reason: ReasonCountMismatch},
		{name: "hints without claim", started: time.Hour, mutate: func(r map[string]any) {
			r["hint_events"] = []map[string]any{{"row": 0, "col": 0, "value": 5}}
		}, reason: ReasonCountMismatch},
		{name: "missing submit action", started: time.Hour, mutate: func(r map[string]any) {
			r["action_log"] = []map[string]any{{"ts": 0, "action": "start"}, {"ts": 60000, "action": "place"}}
		}, reason: ReasonVerifier},
		{name: "invalid board", started: time.Hour, mutate: func(r map[string]any) {
			board := solvedBoard()
			board[0], board[1] = board[1], board[0]
			r["answers"] = []map[string]any{{"board": board}}
		}, reason: ReasonVerifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.started > 0 {
				h.startedAgo("sudoku", "easy", "u1", tt.started)
			}
			raw := sudokuRaw("u1")
			if tt.mutate != nil {
				tt.mutate(raw)
			}

			res, err := h.svc.Submit(context.Background(), decodeSubmission(t, raw))
			if err != nil {
				t.Fatalf("Submit returned error %v, want silent rejection", err)
			}
			if res.IsVerified || res.RecordID != 0 || res.Status != StatusSuccess {
				t.Fatalf("Submit = %+v, want rejected", res)
			}
			if h.ledger.count() != 0 || h.cache.size("sudoku", "easy") != 0 {
				t.Fatalf("rejected attempt was stored")
			}
			if len(h.notifier.records) != 0 {
				t.Fatalf("rejected attempt was broadcast")
			}
			if got := testutil.ToFloat64(h.metrics.Rejections.WithLabelValues(string(tt.reason))); got != 1 {
				t.Fatalf("rejection reason %q counted %v times", tt.reason, got)
			}
		})
	}
}

func TestSubmitBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		started time.Duration
		log     []int64
	}{
		{name: "elapsed exactly clear time", started: 120 * time.Second, log: []int64{0, 119500}},
		{name: "span exactly one second", started: time.Hour, log: []int64{10, 1010}},
		{name: "span exactly clear time plus buffer", started: time.Hour, log: []int64{0, 125000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.startedAgo("sudoku", "easy", "u1", tt.started)
			raw := sudokuRaw("u1")
			raw["action_log"] = actionLog(tt.log...)

			res, err := h.svc.Submit(context.Background(), decodeSubmission(t, raw))
			if err != nil || !res.IsVerified {
				t.Fatalf("Submit = %+v, %v; want accepted", res, err)
			}
		})
	}
}

func TestSubmitClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(raw map[string]any)
		want   error
	}{
		{name: "zero clear time", mutate: func(r map[string]any) { r["clear_time"] = 0 }, want: domain.ErrInvalidMetric},
		{name: "negative clear time", mutate: func(r map[string]any) { r["clear_time"] = -3 }, want: domain.ErrInvalidMetric},
		{name: "negative mistakes", mutate: func(r map[string]any) { r["mistake_count"] = -1 }, want: domain.ErrInvalidMetric},
		{name: "negative hints", mutate: func(r map[string]any) { r["hint_count"] = -1 }, want: domain.ErrInvalidMetric},
		{name: "negative score", mutate: func(r map[string]any) { r["score"] = -10 }, want: domain.ErrInvalidMetric},
		{name: "clear time past int32", mutate: func(r map[string]any) { r["clear_time"] = domain.MaxMetric + 1 }, want: domain.ErrInvalidMetric},
		{name: "score past int32", mutate: func(r map[string]any) { r["score"] = domain.MaxMetric + 1 }, want: domain.ErrInvalidMetric},
		{name: "mistakes past int32", mutate: func(r map[string]any) { r["mistake_count"] = domain.MaxMetric + 1 }, want: domain.ErrInvalidMetric},
		{name: "unknown game", mutate: func(r map[string]any) { r["game_name"] = "chess" }, want: domain.ErrUnknownBoard},
		{name: "unknown level", mutate: func(r map[string]any) { r["level"] = "impossible" }, want: domain.ErrUnknownBoard},
		{name: "missing user", mutate: func(r map[string]any) { r["user_uuid"] = "" }, want: domain.ErrUserRequired},
		{name: "nickname too long", mutate: func(r map[string]any) { r["nickname"] = strings.Repeat("n", 51) }, want: domain.ErrNicknameTooLong},
		{name: "too many answers", mutate: func(r map[string]any) {
			answers := make([]map[string]any, 1001)
			for i := range answers {
				answers[i] = map[string]any{"index": i, "value": 1}
			}
			r["answers"] = answers
		}, want: domain.ErrListTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.startedAgo("sudoku", "easy", "u1", time.Hour)
			raw := sudokuRaw("u1")
			tt.mutate(raw)

			_, err := h.svc.Submit(context.Background(), decodeSubmission(t, raw))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Submit error = %v, want %v", err, tt.want)
			}
			if !domain.IsClientError(err) {
				t.Fatalf("%v not classified as a client error", err)
			}
			if h.sessions.reads != 0 || h.ledger.count() != 0 {
				t.Fatalf("client error had side effects")
			}
		})
	}
}

func TestSubmitHugeClearTimeIsNotAccepted(t *testing.T) {
	h := newHarness(t)
	h.startedAgo("sudoku", "easy", "u1", 4*time.Second)
	raw := sudokuRaw("u1")
	raw["clear_time"] = 36028797018963971
	raw["action_log"] = actionLog(0, 2000)

	res, err := h.svc.Submit(context.Background(), decodeSubmission(t, raw))
	if !errors.Is(err, domain.ErrInvalidMetric) {
		t.Fatalf("Submit = %+v, %v; want ErrInvalidMetric", res, err)
	}
	if res.IsVerified || h.ledger.count() != 0 {
		t.Fatalf("oversized clear_time was stored")
	}
}

func TestSubmitLedgerFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.startedAgo("sudoku", "easy", "u1", time.Hour)
	h.ledger.insertErr = errStoreDown

	res, err := h.svc.Submit(context.Background(), decodeSubmission(t, sudokuRaw("u1")))
	if !errors.Is(err, domain.ErrStoreUnavailable) || domain.IsClientError(err) {
		t.Fatalf("Submit error = %v, want store failure", err)
	}
	if res.RecordID != 0 || h.cache.size("sudoku", "easy") != 0 {
		t.Fatalf("ledger failure left partial state: %+v", res)
	}
}

func TestSubmitSessionStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.sessions.err = errStoreDown

	_, err := h.svc.Submit(context.Background(), decodeSubmission(t, sudokuRaw("u1")))
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Submit error = %v, want store failure", err)
	}
}

func TestSubmitCacheFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.startedAgo("sudoku", "easy", "u1", time.Hour)
	h.cache.insertErr = errStoreDown

	res, err := h.svc.Submit(context.Background(), decodeSubmission(t, sudokuRaw("u1")))
	if err != nil || !res.IsVerified || res.RecordID == 0 {
		t.Fatalf("Submit = %+v, %v; want durable success", res, err)
	}
	if got := testutil.ToFloat64(h.metrics.CacheFailures.WithLabelValues("insert")); got != 1 {
		t.Fatalf("cache failure counter = %v", got)
	}

	// a later read falls through to the ledger and repairs the cache
	h.cache.insertErr = nil
	ranking, err := h.svc.Ranking(context.Background(), "sudoku", "easy", 10)
	if err != nil || len(ranking) != 1 {
		t.Fatalf("Ranking = %v, %v", ranking, err)
	}
	if h.cache.size("sudoku", "easy") != 1 {
		t.Fatalf("cache not repaired")
	}
}

func TestSubmitIdenticalTwiceKeepsOneCacheMember(t *testing.T) {
	h := newHarness(t)
	h.startedAgo("sudoku", "easy", "u1", time.Hour)
	sub := decodeSubmission(t, sudokuRaw("u1"))

	for i := 0; i < 2; i++ {
		if _, err := h.svc.Submit(context.Background(), sub); err != nil {
			t.Fatal(err)
		}
	}
	if h.ledger.count() != 2 {
		t.Fatalf("ledger has %d rows, want 2", h.ledger.count())
	}
	if h.cache.size("sudoku", "easy") != 1 {
		t.Fatalf("cache has %d members, want 1", h.cache.size("sudoku", "easy"))
	}
}

func seedLedger(h *harness, game, level string, clears ...int) {
	for i, c := range clears {
		h.ledger.records = append(h.ledger.records, domain.Record{
			ID:         int64(len(h.ledger.records) + 1),
			GameName:   game,
			Level:      level,
			UserID:     fmt.Sprintf("user-%d", i),
			Nickname:   fmt.Sprintf("nick-%d", i),
			ClearTime:  c,
			IsVerified: true,
		})
	}
}

func TestRankingCacheMissRepairsFromLedger(t *testing.T) {
	h := newHarness(t)
	seedLedger(h, "hidato", "easy", 300, 100, 200)
	ctx := context.Background()

	got, err := h.svc.Ranking(ctx, "hidato", "easy", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Rank != 1 || got[0].ClearTime != 100 || got[1].ClearTime != 200 {
		t.Fatalf("Ranking = %+v", got)
	}
	if h.cache.size("hidato", "easy") != 3 {
		t.Fatalf("cache repopulated with %d entries, want the full board", h.cache.size("hidato", "easy"))
	}

	calls := h.ledger.rankingCalls
	again, err := h.svc.Ranking(ctx, "hidato", "easy", 2)
	if err != nil {
		t.Fatal(err)
	}
	if h.ledger.rankingCalls != calls {
		t.Fatalf("second read went to the ledger")
	}
	for i := range got {
		if got[i] != again[i] {
			t.Fatalf("cached ranking %+v differs from ledger ranking %+v", again, got)
		}
	}
}

func TestRankingCacheErrorFallsBack(t *testing.T) {
	h := newHarness(t)
	seedLedger(h, "shikaku", "hard", 50)
	h.cache.readErr = errStoreDown

	got, err := h.svc.Ranking(context.Background(), "shikaku", "hard", 5)
	if err != nil || len(got) != 1 {
		t.Fatalf("Ranking = %v, %v; want ledger fallback", got, err)
	}
}

func TestRankingLedgerFailureOnFallbackIsFatal(t *testing.T) {
	h := newHarness(t)
	h.ledger.rankingErr = errStoreDown

	_, err := h.svc.Ranking(context.Background(), "shikaku", "hard", 5)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Ranking error = %v, want store failure", err)
	}
}

func TestRankingEmptyEverywhere(t *testing.T) {
	h := newHarness(t)
	got, err := h.svc.Ranking(context.Background(), "nonogram", "5x5", 10)
	if err != nil || len(got) != 0 {
		t.Fatalf("Ranking = %v, %v", got, err)
	}
}

func TestRankingLimits(t *testing.T) {
	h := newHarness(t)
	for _, limit := range []int{0, -1} {
		if _, err := h.svc.Ranking(context.Background(), "sudoku", "easy", limit); !errors.Is(err, domain.ErrInvalidLimit) {
			t.Fatalf("Ranking(limit=%d) error = %v", limit, err)
		}
	}
	if _, err := h.svc.Ranking(context.Background(), "chess", "easy", 5); !errors.Is(err, domain.ErrUnknownBoard) {
		t.Fatalf("Ranking on unknown board error = %v", err)
	}

	clears := make([]int, 150)
	for i := range clears {
		clears[i] = i + 1
	}
	seedLedger(h, "sudoku", "easy", clears...)
	got, err := h.svc.Ranking(context.Background(), "sudoku", "easy", 500)
	if err != nil || len(got) != 100 {
		t.Fatalf("Ranking clamped to %d rows, %v; want 100", len(got), err)
	}
}

func TestRankingScoreGame(t *testing.T) {
	h := newHarness(t)
	for i, score := range []int{512, 4096, 2048} {
		h.ledger.records = append(h.ledger.records, domain.Record{
			GameName: "2048", Level: "4x4", UserID: fmt.Sprintf("u%d", i),
			ClearTime: 100, Score: score, IsVerified: true,
		})
	}
	got, err := h.svc.Ranking(context.Background(), "2048", "4x4", 10)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Score != 4096 || got[1].Score != 2048 || got[2].Score != 512 {
		t.Fatalf("score ranking = %+v", got)
	}
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	seedLedger(h, "sudoku", "easy", 10, 20)
	seedLedger(h, "nonogram", "5x5", 30)
	h.cache.boards[boardID("sudoku", "easy")] = []domain.Record{{UserID: "stale", GameName: "sudoku", Level: "easy", IsVerified: true}}

	n, err := h.svc.Reconcile(context.Background(), "sudoku", "easy")
	if err != nil || n != 2 {
		t.Fatalf("Reconcile = %d, %v", n, err)
	}
	for _, r := range h.cache.boards[boardID("sudoku", "easy")] {
		if r.UserID == "stale" {
			t.Fatalf("stale entry survived reconcile")
		}
	}

	boards, err := h.svc.ReconcileAll(context.Background())
	if err != nil || boards != 2 {
		t.Fatalf("ReconcileAll = %d, %v", boards, err)
	}
	if h.cache.size("nonogram", "5x5") != 1 {
		t.Fatalf("nonogram board not rebuilt")
	}

	h.cache.insertErr = errStoreDown
	if _, err := h.svc.ReconcileAll(context.Background()); err == nil {
		t.Fatalf("ReconcileAll hid cache failures")
	}
}

func TestUpdateNickname(t *testing.T) {
	h := newHarness(t)
	seedLedger(h, "sudoku", "easy", 10)
	user := h.ledger.records[0].UserID
	h.cache.boards[boardID("sudoku", "easy")] = append([]domain.Record(nil), h.ledger.records...)
	ctx := context.Background()

	if _, err := h.svc.UpdateNickname(ctx, user, "  "); !errors.Is(err, domain.ErrNicknameRequired) {
		t.Fatalf("blank nickname error = %v", err)
	}
	if _, err := h.svc.UpdateNickname(ctx, user, strings.Repeat("x", 51)); !errors.Is(err, domain.ErrNicknameTooLong) {
		t.Fatalf("long nickname error = %v", err)
	}

	rows, err := h.svc.UpdateNickname(ctx, user, "neo")
	if err != nil || rows != 1 {
		t.Fatalf("UpdateNickname = %d, %v", rows, err)
	}
	if h.cache.boards[boardID("sudoku", "easy")][0].Nickname != "neo" {
		t.Fatalf("cache not renamed")
	}

	h.cache.renameErr = errStoreDown
	if _, err := h.svc.UpdateNickname(ctx, user, "trinity"); err != nil {
		t.Fatalf("cache rename failure surfaced: %v", err)
	}
	if h.ledger.records[0].Nickname != "trinity" {
		t.Fatalf("ledger not renamed")
	}

	h.ledger.updateErr = errStoreDown
	if _, err := h.svc.UpdateNickname(ctx, user, "morpheus"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("ledger failure error = %v", err)
	}
}

func TestHistory(t *testing.T) {
	h := newHarness(t)
	seedLedger(h, "sudoku", "easy", 10)
	user := h.ledger.records[0].UserID

	if _, err := h.svc.History(context.Background(), "sudoku", "easy", user, 0); !errors.Is(err, domain.ErrInvalidLimit) {
		t.Fatalf("History(limit=0) error = %v", err)
	}
	got, err := h.svc.History(context.Background(), "sudoku", "easy", user, 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("History = %v, %v", got, err)
	}
}

func TestSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := domain.SessionRequest{GameName: "sudoku", Level: "easy", UserID: "u1"}

	start, err := h.svc.StartSession(ctx, req)
	if err != nil || !start.Equal(testNow) {
		t.Fatalf("StartSession = %v, %v", start, err)
	}
	if ok, err := h.svc.RenewSession(ctx, req); err != nil || !ok {
		t.Fatalf("RenewSession = %v, %v", ok, err)
	}
	if _, err := h.svc.StartSession(ctx, domain.SessionRequest{GameName: "sudoku", Level: "nope", UserID: "u1"}); !errors.Is(err, domain.ErrUnknownBoard) {
		t.Fatalf("StartSession on unknown level error = %v", err)
	}
	if _, err := h.svc.StartSession(ctx, domain.SessionRequest{GameName: "sudoku", Level: "easy"}); !errors.Is(err, domain.ErrUserRequired) {
		t.Fatalf("StartSession without user error = %v", err)
	}
}

func TestNewUser(t *testing.T) {
	h := newHarness(t)
	u := h.svc.NewUser()
	if len(u.UserID) != 36 || u.Nickname != u.UserID[:8] {
		t.Fatalf("NewUser = %+v", u)
	}
	if other := h.svc.NewUser(); other.UserID == u.UserID {
		t.Fatalf("NewUser repeated an id")
	}
}

func TestReady(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	h.cache.readErr = errStoreDown
	if err := h.svc.Ready(context.Background()); err == nil {
		t.Fatalf("Ready ignored a failing cache")
	}
}
