package heatsim

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/leaderboard"
	"github.com/okian/wodboard/pkg/logger"
)

const (
	judgeChannelMultiplier = 2
	directoryPermission    = 0o750
)

type call struct {
	path string
	body any
	key  string
}

// Run plays one heat against cfg.BaseURL, verifies the board and renders it
// to out.
func Run(ctx context.Context, cfg *Config, out io.Writer) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("heatsim")
	stats := &Stats{StartTime: time.Now(), Teams: cfg.Teams}

	log.Info(ctx, "starting heat simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("workout", cfg.WorkoutID),
		logger.String("category", string(cfg.Category)),
		logger.String("mode", string(cfg.Mode)),
		logger.Int("teams", cfg.Teams),
		logger.Int("judges", cfg.Judges))

	client := NewClient(cfg.BaseURL, "heatsim", cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	plan := NewPlan(cfg)
	if err := dispatch(ctx, client, cfg, ensureCalls(plan), stats); err != nil {
		return stats, fmt.Errorf("ensure teams: %w", err)
	}
	if _, err := client.Command(ctx, "/heats/start", map[string]any{
		"workoutId": plan.WorkoutID, "category": plan.Category,
	}, uuid.NewString()); err != nil {
		return stats, fmt.Errorf("start heat: %w", err)
	}
	if err := dispatch(ctx, client, cfg, workCalls(plan, cfg.DupRate), stats); err != nil {
		return stats, fmt.Errorf("judge work: %w", err)
	}
	if err := dispatch(ctx, client, cfg, finishCalls(plan), stats); err != nil {
		return stats, fmt.Errorf("finish teams: %w", err)
	}

	board, err := client.Leaderboard(ctx, plan.WorkoutID, plan.Category)
	if err != nil {
		return stats, fmt.Errorf("leaderboard: %w", err)
	}
	stats.BoardRows = len(board.Rows)
	stats.Duration = time.Since(stats.StartTime)

	if err := leaderboard.Render(out, board); err != nil {
		return stats, fmt.Errorf("render: %w", err)
	}
	if cfg.ExportPath != "" {
		if err := export(ctx, client, plan, cfg.ExportPath); err != nil {
			log.Warn(ctx, "failed to save workbook", logger.Error(err))
		}
	}
	displayFinalStats(ctx, log, stats)

	if err := Verify(plan, board); err != nil {
		return stats, err
	}
	log.Info(ctx, "heat verified")
	return stats, nil
}

func ensureCalls(p *Plan) []call {
	calls := make([]call, 0, len(p.Teams))
	for i := range p.Teams {
		t := &p.Teams[i]
		body := map[string]any{
			"workout":  model.Workout{ID: p.WorkoutID, Name: "Simulated " + string(p.Mode), ScoringMode: p.Mode},
			"team":     model.Team{ID: t.TeamID, Name: t.Name},
			"category": p.Category,
		}
		if p.CapSeconds > 0 {
			body["capSeconds"] = p.CapSeconds
		}
		calls = append(calls, call{path: "/scores", body: body, key: uuid.NewString()})
	}
	return calls
}

// workCalls is every rep, no-rep and lift of the heat in random order.
// A dupRate share of them is sent twice with the same key, as a tablet
// that lost the first acknowledgement would.
func workCalls(p *Plan, dupRate float64) []call {
	var calls []call
	for i := range p.Teams {
		t := &p.Teams[i]
		id := p.ScoreID(t)
		for _, d := range repDeltas(t.Reps) {
			calls = append(calls, call{path: "/scores/" + id + "/reps", body: map[string]int64{"delta": d}})
		}
		for n := int64(0); n < t.NoReps; n++ {
			calls = append(calls, call{path: "/scores/" + id + "/noreps", body: map[string]int64{"delta": 1}})
		}
		for _, l := range t.Lifts {
			calls = append(calls, call{path: "/scores/" + id + "/load", body: map[string]any{"loadKg": l.LoadKg, "success": l.Success}})
		}
	}
	threshold := int64(dupRate * 1000)
	for i := range calls {
		calls[i].key = uuid.NewString()
		if randInt(1000) < threshold {
			calls = append(calls, calls[i])
		}
	}
	for i := len(calls) - 1; i > 0; i-- {
		j := randInt(int64(i + 1))
		calls[i], calls[j] = calls[j], calls[i]
	}
	return calls
}

func finishCalls(p *Plan) []call {
	calls := make([]call, 0, len(p.Teams))
	for i := range p.Teams {
		t := &p.Teams[i]
		id := p.ScoreID(t)
		c := call{path: "/scores/" + id + "/finish", body: map[string]any{}, key: uuid.NewString()}
		switch {
		case t.Outcome == OutcomeDNF:
			c.path = "/scores/" + id + "/dnf"
		case p.Mode == model.ModeTime:
			c.body = map[string]int64{"elapsedMs": t.ElapsedMs}
		}
		calls = append(calls, c)
	}
	return calls
}

// dispatch sends calls from cfg.Judges concurrent workers and fails on the
// first error.
func dispatch(ctx context.Context, client *Client, cfg *Config, calls []call, stats *Stats) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		applied    int64
		duplicates int64
		failed     int64
		firstErr   error
		errOnce    sync.Once
	)
	ch := make(chan call, cfg.Judges*judgeChannelMultiplier)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Judges; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range ch {
				ack, err := client.Command(ctx, c.path, c.body, c.key)
				switch {
				case err != nil:
					atomic.AddInt64(&failed, 1)
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
				case ack.Duplicate:
					atomic.AddInt64(&duplicates, 1)
				case ack.Applied:
					atomic.AddInt64(&applied, 1)
				}
			}
		}()
	}

send:
	for _, c := range calls {
		select {
		case <-ctx.Done():
			break send
		case ch <- c:
		}
	}
	close(ch)
	wg.Wait()

	stats.Commands += len(calls)
	stats.Applied += int(applied)
	stats.Duplicates += int(duplicates)
	stats.Failed += int(failed)
	return firstErr
}

func export(ctx context.Context, client *Client, p *Plan, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := client.Export(ctx, p.WorkoutID, p.Category, f); err != nil {
		return err
	}
	logger.Get().Info(ctx, "workbook saved", logger.String("path", path))
	return nil
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Commands) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("teams", stats.Teams),
		logger.Int("commands", stats.Commands),
		logger.Int("applied", stats.Applied),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("failed", stats.Failed),
		logger.Int("boardRows", stats.BoardRows),
		logger.Duration("duration", stats.Duration),
		logger.Float64("commandsPerSecond", perSecond))
}
