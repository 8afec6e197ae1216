// Package timer derives the live clock of a score record and enforces caps.
//
// Nothing here is a source of truth. The clock shown to judges is computed
// from the persisted startedAt, and the only write is the auto-finish that
// a Session hands to its Finisher when the cap is reached.
package timer

import "github.com/okian/wodboard/internal/domain/model"

// Display returns the elapsed milliseconds to show at nowMs. A running
// clock never shows past its cap.
func Display(rec *model.ScoreRecord, nowMs int64) int64 {
	if rec.Status == model.StatusRunning && rec.StartedAt != nil {
		elapsed := nowMs - *rec.StartedAt
		if elapsed < 0 {
			return 0
		}
		if capMs := rec.CapMs(); capMs > 0 && elapsed > capMs {
			return capMs
		}
		return elapsed
	}
	if rec.FinalTimeMs != nil {
		return *rec.FinalTimeMs
	}
	return 0
}

// CapReached reports whether a running record has used its whole cap.
func CapReached(rec *model.ScoreRecord, nowMs int64) bool {
	capMs := rec.CapMs()
	if capMs == 0 || rec.Status != model.StatusRunning || rec.StartedAt == nil {
		return false
	}
	return nowMs-*rec.StartedAt >= capMs
}

// ResumeStartedAt is the synthetic start that makes a clock paused at
// finalTimeMs continue from there when resumed at nowMs.
func ResumeStartedAt(finalTimeMs *int64, nowMs int64) int64 {
	if finalTimeMs == nil {
		return nowMs
	}
	return nowMs - *finalTimeMs
}
