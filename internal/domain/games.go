package domain

import (
	"sort"
)

// RankOrder is the canonical ordering of a game's leaderboard.
type RankOrder string

const (
	// OrderClearTime ranks by ascending clear time, then mistakes, then hints.
	OrderClearTime RankOrder = "clear_time"
	// OrderScoreDesc ranks by descending score.
	OrderScoreDesc RankOrder = "score"
)

// Game describes one recognized game and the levels it accepts.
type Game struct {
	Name   string
	Levels []string
	Order  RankOrder
}

// Board identifies one leaderboard.
type Board struct {
	GameName string
	Level    string
}

// Catalog is the whitelist of (game, level) pairs accepted by the service.
type Catalog struct {
	games map[string]Game
}

// NewCatalog indexes the given games by name.
func NewCatalog(games []Game) *Catalog {
	c := &Catalog{games: make(map[string]Game, len(games))}
	for _, g := range games {
		if g.Order == "" {
			g.Order = OrderClearTime
		}
		c.games[g.Name] = g
	}
	return c
}

// DefaultGames is the reference game set.
func DefaultGames() []Game {
	standard := []string{"easy", "medium", "hard", "expert"}
	return []Game{
		{Name: "sudoku", Levels: standard},
		{Name: "killer-sudoku", Levels: standard},
		{Name: "nonogram", Levels: []string{"5x5", "10x10", "15x15", "20x20"}},
		{Name: "hidato", Levels: standard},
		{Name: "shikaku", Levels: standard},
		{Name: "2048", Levels: []string{"4x4", "5x5", "6x6"}, Order: OrderScoreDesc},
		{Name: "woodoku", Levels: []string{"classic"}, Order: OrderScoreDesc},
	}
}

// Allowed reports whether the level is whitelisted for the game.
func (c *Catalog) Allowed(game, level string) bool {
	g, ok := c.games[game]
	if !ok {
		return false
	}
	for _, l := range g.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// Order returns the ranking order of the game. Unknown games rank by time.
func (c *Catalog) Order(game string) RankOrder {
	if g, ok := c.games[game]; ok {
		return g.Order
	}
	return OrderClearTime
}

// Boards lists every whitelisted board, sorted for stable iteration.
func (c *Catalog) Boards() []Board {
	var boards []Board
	for _, g := range c.games {
		for _, l := range g.Levels {
			boards = append(boards, Board{GameName: g.Name, Level: l})
		}
	}
	sort.Slice(boards, func(i, j int) bool {
		if boards[i].GameName != boards[j].GameName {
			return boards[i].GameName < boards[j].GameName
		}
		return boards[i].Level < boards[j].Level
	})
	return boards
}

// Ranks reports whether a ranks strictly before b under order.
func Ranks(order RankOrder, a, b Record) bool {
	if order == OrderScoreDesc {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ClearTime < b.ClearTime
	}
	if a.ClearTime != b.ClearTime {
		return a.ClearTime < b.ClearTime
	}
	if a.MistakeCount != b.MistakeCount {
		return a.MistakeCount < b.MistakeCount
	}
	return a.HintCount < b.HintCount
}

// SortRecords orders records in place under order.
func SortRecords(order RankOrder, records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return Ranks(order, records[i], records[j])
	})
}

// RankRecords numbers already sorted records starting at 1.
func RankRecords(records []Record) []RankEntry {
	out := make([]RankEntry, len(records))
	for i, r := range records {
		out[i] = RankEntry{
			Rank:         i + 1,
			UserID:       r.UserID,
			Nickname:     r.Nickname,
			ClearTime:    r.ClearTime,
			MistakeCount: r.MistakeCount,
			HintCount:    r.HintCount,
			Score:        r.Score,
		}
	}
	return out
}
