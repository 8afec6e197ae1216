// Package rankkey derives the ascending sort key of a score record.
//
// The key is a pure function of the record's metrics: no store access, no clock.
// Lower keys rank better.
package rankkey

import (
	"math"

	"github.com/okian/wodboard/internal/domain/model"
)

// UnfinishedPenalty lifts every unfinished time-mode record above the cap.
// It must exceed any rep count a judge can record.
const UnfinishedPenalty int64 = 1_000_000_000

// loadScale turns kilograms into integer grams so reps break ties within a load.
const loadScale = 1000

// Input carries the fields the key depends on.
type Input struct {
	Mode           model.ScoringMode
	Finished       bool
	FinalTimeMs    *int64
	CapSeconds     *int64
	Reps           int64
	MaxLoadKg      *float64
	UpdatedAtEpoch int64
}

// Key is the (primary, secondary) ordering pair.
type Key struct {
	Primary   int64
	Secondary int64
}

// Less orders keys ascending.
func (k Key) Less(o Key) bool {
	if k.Primary != o.Primary {
		return k.Primary < o.Primary
	}
	return k.Secondary < o.Secondary
}

// Compute returns the rank key for in.
//
//   - time, finished with a time: primary = finalTimeMs
//   - time, otherwise:            primary = capMs + (UnfinishedPenalty - reps)
//   - reps:                       primary = -reps
//   - load:                       primary = -round(maxLoadKg*1000 + reps)
//
// Secondary is -updatedAtEpoch in every mode, so on an exact tie the most
// recently updated record ranks ahead.
func Compute(in Input) Key {
	reps := in.Reps
	if reps < 0 {
		reps = 0
	}
	key := Key{Secondary: -in.UpdatedAtEpoch}

	switch in.Mode {
	case model.ModeReps:
		key.Primary = -reps
	case model.ModeLoad:
		load := 0.0
		if in.MaxLoadKg != nil && *in.MaxLoadKg > 0 {
			load = *in.MaxLoadKg
		}
		key.Primary = -int64(math.Round(load*loadScale + float64(reps)))
	default:
		if in.Finished && in.FinalTimeMs != nil {
			key.Primary = *in.FinalTimeMs
			break
		}
		var capMs int64
		if in.CapSeconds != nil && *in.CapSeconds > 0 {
			capMs = *in.CapSeconds * 1000
		}
		key.Primary = capMs + (UnfinishedPenalty - reps)
	}
	return key
}

// ForRecord computes the key for a record as it stands.
func ForRecord(r *model.ScoreRecord) Key {
	return Compute(Input{
		Mode:           r.ScoringMode,
		Finished:       r.Status == model.StatusFinished,
		FinalTimeMs:    r.FinalTimeMs,
		CapSeconds:     r.CapSeconds,
		Reps:           r.Reps,
		MaxLoadKg:      r.MaxLoadKg,
		UpdatedAtEpoch: r.UpdatedAtEpoch,
	})
}

// Apply recomputes and stores the key on r. Every write path calls it.
func Apply(r *model.ScoreRecord) {
	k := ForRecord(r)
	r.RankPrimary = k.Primary
	r.RankSecondary = k.Secondary
}

// Of reads the stored key of r.
func Of(r *model.ScoreRecord) Key {
	return Key{Primary: r.RankPrimary, Secondary: r.RankSecondary}
}

// RecordLess orders records by stored key, then by identity for determinism.
func RecordLess(a, b *model.ScoreRecord) bool {
	ka, kb := Of(a), Of(b)
	if ka != kb {
		return ka.Less(kb)
	}
	return a.ID() < b.ID()
}
