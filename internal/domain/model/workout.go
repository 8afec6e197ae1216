package model

// BlockType names a workout block format.
type BlockType string

// Block formats.
const (
	BlockAMRAP     BlockType = "amrap"
	BlockForTime   BlockType = "for_time"
	BlockEMOM      BlockType = "emom"
	BlockInterval  BlockType = "interval"
	BlockForLoad   BlockType = "for_load"
	BlockChipper   BlockType = "chipper"
	BlockTabata    BlockType = "tabata"
	BlockBenchmark BlockType = "benchmark"
)

// Block is the part of a workout block the scoring engine cares about.
type Block struct {
	Type       BlockType `json:"type"`
	Minutes    *int64    `json:"minutes,omitempty"`
	CapSeconds *int64    `json:"capSeconds,omitempty"`
}

// Workout is supplied by the workout provider at ensure time.
type Workout struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Category    Category    `json:"category,omitempty"`
	ScoringMode ScoringMode `json:"scoringMode"`
	Blocks      []Block     `json:"blocks,omitempty"`
}

// CapSeconds derives the cap from the blocks: the first explicit cap wins,
// then the first AMRAP duration, then the first EMOM duration.
func (w *Workout) CapSeconds() *int64 {
	for _, b := range w.Blocks {
		if b.CapSeconds != nil {
			return Int64Ptr(*b.CapSeconds)
		}
	}
	for _, want := range []BlockType{BlockAMRAP, BlockEMOM} {
		for _, b := range w.Blocks {
			if b.Type == want && b.Minutes != nil && *b.Minutes > 0 {
				return Int64Ptr(*b.Minutes * 60)
			}
		}
	}
	return nil
}

// Team is supplied by the team provider at ensure time.
type Team struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category,omitempty"`
}
