package service

import (
	"time"

	"github.com/puzzle-records/internal/domain"
)

// Reason names why a submission was or was not accepted.
type Reason string

const (
	ReasonAccepted      Reason = "accepted"
	ReasonNoSession     Reason = "no_session"
	ReasonTooFast       Reason = "elapsed_below_clear_time"
	ReasonActionLog     Reason = "action_log"
	ReasonCountMismatch Reason = "count_mismatch"
	ReasonVerifier      Reason = "verifier"
)

// CheckActionLog reports whether the log is consistent with the claimed clear
// time: at least two entries, timestamps never going back, and a first-to-last
// span of at least minSpan and at most clearTime plus buffer.
func CheckActionLog(log []domain.ActionEntry, clearTime int, minSpan, buffer time.Duration) bool {
	if len(log) < 2 {
		return false
	}
	for i := 1; i < len(log); i++ {
		if log[i].TS < log[i-1].TS {
			return false
		}
	}
	span := log[len(log)-1].TS - log[0].TS
	if span <= 0 || span < minSpan.Milliseconds() {
		return false
	}
	if clearTime <= 0 || clearTime > domain.MaxMetric {
		return false
	}
	limit := int64(clearTime)*1000 + buffer.Milliseconds()
	return span <= limit
}
