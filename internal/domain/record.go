package domain

import (
	"math"
	"time"
)

// DefaultNickname is stored when a submission carries no nickname.
const DefaultNickname = "Guest"

// MaxNicknameLength matches the width of the ledger's nickname column.
const MaxNicknameLength = 50

// MaxMetric bounds clear_time, score and the counts to the ledger's 32-bit
// integer columns.
const MaxMetric = math.MaxInt32

// Record is one persisted completion attempt. ID, IsVerified and InsertedAt
// are assigned server side and never taken from the client.
type Record struct {
	ID           int64     `json:"record_id"`
	GameName     string    `json:"game_name"`
	Level        string    `json:"level"`
	UserID       string    `json:"user_uuid"`
	Nickname     string    `json:"nickname"`
	ClearTime    int       `json:"clear_time"`
	Score        int       `json:"score"`
	MistakeCount int       `json:"mistake_count"`
	HintCount    int       `json:"hint_count"`
	IsVerified   bool      `json:"is_verified"`
	UserIP       string    `json:"-"`
	InsertedAt   time.Time `json:"insert_ts"`
}

// Submission is a client claim of having completed a puzzle, together with
// the telemetry used to judge it.
type Submission struct {
	GameName     string `json:"game_name"`
	Level        string `json:"level"`
	UserID       string `json:"user_uuid"`
	Nickname     string `json:"nickname,omitempty"`
	ClearTime    int    `json:"clear_time"`
	Score        int    `json:"score,omitempty"`
	MistakeCount int    `json:"mistake_count"`
	HintCount    int    `json:"hint_count"`
	UserIP       string `json:"user_ip,omitempty"`
	Payload
}

// Record builds the unverified record carried by the submission.
func (s *Submission) Record() Record {
	nickname := s.Nickname
	if nickname == "" {
		nickname = DefaultNickname
	}
	return Record{
		GameName:     s.GameName,
		Level:        s.Level,
		UserID:       s.UserID,
		Nickname:     nickname,
		ClearTime:    s.ClearTime,
		Score:        s.Score,
		MistakeCount: s.MistakeCount,
		HintCount:    s.HintCount,
		UserIP:       s.UserIP,
	}
}

// SessionRequest identifies the play session of one player on one board.
type SessionRequest struct {
	GameName string `json:"game_name"`
	Level    string `json:"level"`
	UserID   string `json:"user_uuid"`
}

// Result is returned for every processed submission. Rejected attempts carry
// a zero RecordID.
type Result struct {
	RecordID   int64  `json:"record_id"`
	Status     string `json:"status"`
	IsVerified bool   `json:"is_verified"`
}

// LeaderboardEntry is the denormalized form of a verified record kept in the
// ranked cache.
type LeaderboardEntry struct {
	UserID       string `json:"user_uuid"`
	Nickname     string `json:"nickname"`
	ClearTime    int    `json:"clear_time"`
	MistakeCount int    `json:"mistake_count"`
	HintCount    int    `json:"hint_count"`
	IsVerified   bool   `json:"is_verified"`
	UserIP       string `json:"user_ip"`
	Score        int    `json:"score"`
}

// EntryOf projects a record onto its cache entry.
func EntryOf(r Record) LeaderboardEntry {
	return LeaderboardEntry{
		UserID:       r.UserID,
		Nickname:     r.Nickname,
		ClearTime:    r.ClearTime,
		MistakeCount: r.MistakeCount,
		HintCount:    r.HintCount,
		IsVerified:   r.IsVerified,
		UserIP:       r.UserIP,
		Score:        r.Score,
	}
}

// Record expands a cache entry back into a record on the given board.
func (e LeaderboardEntry) Record(game, level string) Record {
	return Record{
		GameName:     game,
		Level:        level,
		UserID:       e.UserID,
		Nickname:     e.Nickname,
		ClearTime:    e.ClearTime,
		Score:        e.Score,
		MistakeCount: e.MistakeCount,
		HintCount:    e.HintCount,
		IsVerified:   e.IsVerified,
		UserIP:       e.UserIP,
	}
}

// RankEntry is one row of a ranked read.
type RankEntry struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"user_uuid"`
	Nickname     string `json:"nickname"`
	ClearTime    int    `json:"clear_time"`
	MistakeCount int    `json:"mistake_count"`
	HintCount    int    `json:"hint_count"`
	Score        int    `json:"score,omitempty"`
}

// User is a player identity handed out to new clients.
type User struct {
	UserID   string `json:"user_uuid"`
	Nickname string `json:"nickname"`
}
