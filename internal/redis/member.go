package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/puzzle-records/internal/domain"
)

const legacyFields = 7

// EncodeEntry serializes a leaderboard entry as a sorted set member.
func EncodeEntry(e domain.LeaderboardEntry) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding entry: %w", err)
	}
	return string(data), nil
}

// DecodeEntry parses a sorted set member. Besides JSON it accepts the older
// colon-joined form user:nickname:clear:mistakes:hints:True|False:ip.
func DecodeEntry(member string) (domain.LeaderboardEntry, error) {
	if strings.HasPrefix(member, "{") {
		return decodeJSON(member)
	}
	return decodeLegacy(member)
}

// decodeJSON requires the ranking fields so a truncated member never ranks
// as a zero clear time.
func decodeJSON(member string) (domain.LeaderboardEntry, error) {
	var wire struct {
		domain.LeaderboardEntry
		ClearTime    *int `json:"clear_time"`
		MistakeCount *int `json:"mistake_count"`
		HintCount    *int `json:"hint_count"`
	}
	if err := json.Unmarshal([]byte(member), &wire); err != nil {
		return domain.LeaderboardEntry{}, fmt.Errorf("decoding entry: %w", err)
	}
	e := wire.LeaderboardEntry
	if e.UserID == "" {
		return domain.LeaderboardEntry{}, fmt.Errorf("decoding entry: missing user_uuid")
	}
	for name, v := range map[string]*int{
		"clear_time":    wire.ClearTime,
		"mistake_count": wire.MistakeCount,
		"hint_count":    wire.HintCount,
	} {
		if v == nil {
			return domain.LeaderboardEntry{}, fmt.Errorf("decoding entry: missing %s", name)
		}
	}
	e.ClearTime = *wire.ClearTime
	e.MistakeCount = *wire.MistakeCount
	e.HintCount = *wire.HintCount
	return e, nil
}

func decodeLegacy(member string) (domain.LeaderboardEntry, error) {
	parts := strings.SplitN(member, ":", legacyFields)
	if len(parts) != legacyFields || parts[0] == "" {
		return domain.LeaderboardEntry{}, fmt.Errorf("decoding legacy entry: want %d fields, got %d", legacyFields, len(parts))
	}
	var counts [3]int
	for i, raw := range parts[2:5] {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.LeaderboardEntry{}, fmt.Errorf("decoding legacy entry: %w", err)
		}
		counts[i] = n
	}
	return domain.LeaderboardEntry{
		UserID:       parts[0],
		Nickname:     parts[1],
		ClearTime:    counts[0],
		MistakeCount: counts[1],
		HintCount:    counts[2],
		IsVerified:   strings.EqualFold(parts[5], "true"),
		UserIP:       parts[6],
	}, nil
}
