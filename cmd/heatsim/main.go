// Command heatsim plays a simulated heat against the scoring API and checks
// the leaderboard it produces.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/heatsim"
	"github.com/okian/wodboard/pkg/logger"
)

const (
	defaultRunTimeout    = 10 * time.Minute
	localShutdownTimeout = 10 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "heatsim:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := heatsim.DefaultConfig()
	var (
		mode     string
		category string
		local    bool
		format   string
		runFor   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "heatsim",
		Short: "Simulate a judged heat against the scoring API",
		Long: `heatsim ensures a heat of teams, starts it, lets concurrent judges tap reps,
no-reps and lifts (resending a share of them with the same idempotency key),
finishes every team and then checks the leaderboard against the plan.

Example:
  heatsim --url http://localhost:9080 --teams 20 --judges 16
  heatsim --local --mode load --export out/board.xlsx`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(logger.WithFormat(format)); err != nil {
				return err
			}
			if cfg.Verbose {
				_ = logger.SetLevelString("debug")
			}
			cfg.Mode = model.ScoringMode(mode)
			cfg.Category = model.Category(category)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, runFor)
			defer cancel()

			if local {
				srv, err := heatsim.StartLocal(ctx)
				if err != nil {
					return err
				}
				defer func() {
					sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), localShutdownTimeout)
					defer scancel()
					_ = srv.Close(sctx)
				}()
				cfg.BaseURL = srv.URL
			}

			_, err := heatsim.Run(ctx, &cfg, cmd.OutOrStdout())
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the scoring service")
	f.BoolVar(&local, "local", false, "run against an in-process service on the memory store")
	f.StringVar(&cfg.WorkoutID, "workout", cfg.WorkoutID, "workout id")
	f.StringVar(&category, "category", string(cfg.Category), "heat category")
	f.StringVar(&mode, "mode", string(cfg.Mode), "scoring mode (time|reps|load)")
	f.IntVar(&cfg.Teams, "teams", cfg.Teams, "teams in the heat")
	f.Int64Var(&cfg.CapSeconds, "cap", cfg.CapSeconds, "time cap in seconds, 0 for none")
	f.IntVar(&cfg.Judges, "judges", cfg.Judges, "concurrent judge tablets")
	f.Float64Var(&cfg.DupRate, "dup-rate", cfg.DupRate, "share of commands resent with the same key")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	f.StringVar(&cfg.ExportPath, "export", "", "save the final board as xlsx")
	f.DurationVar(&runFor, "deadline", defaultRunTimeout, "overall run deadline")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "debug logging")
	f.StringVar(&format, "log-format", logger.FormatText, "log format (text|json)")
	return cmd
}
