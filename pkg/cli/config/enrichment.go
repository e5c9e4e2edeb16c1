package config

import (
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"
)

// Enrichment holds enrichment provider configuration
type Enrichment struct {
	PromptBudget int64
	DailyQuota   int64
	Timeout      time.Duration
	Workers      int64
}

// Flags returns CLI flags for Enrichment configuration
func (e *Enrichment) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "enrich-prompt-budget",
			Usage:       "Token budget per enrichment prompt",
			Category:    "Enrichment",
			Value:       2000,
			Sources:     cli.EnvVars("CYBERSCOPE_ENRICH_PROMPT_BUDGET"),
			Destination: &e.PromptBudget,
		},
		&cli.Int64Flag{
			Name:        "enrich-daily-quota",
			Usage:       "Daily token quota for the LLM provider (0 disables)",
			Category:    "Enrichment",
			Value:       50000,
			Sources:     cli.EnvVars("CYBERSCOPE_ENRICH_DAILY_QUOTA"),
			Destination: &e.DailyQuota,
		},
		&cli.DurationFlag{
			Name:        "enrich-timeout",
			Usage:       "Per-call LLM timeout",
			Category:    "Enrichment",
			Value:       30 * time.Second,
			Sources:     cli.EnvVars("CYBERSCOPE_ENRICH_TIMEOUT"),
			Destination: &e.Timeout,
		},
		&cli.Int64Flag{
			Name:        "enrich-workers",
			Usage:       "Concurrent enrichment calls",
			Category:    "Enrichment",
			Value:       2,
			Sources:     cli.EnvVars("CYBERSCOPE_ENRICH_WORKERS"),
			Destination: &e.Workers,
		},
	}
}

// LogValue returns structured log value
func (e Enrichment) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("promptBudget", e.PromptBudget),
		slog.Int64("dailyQuota", e.DailyQuota),
		slog.Duration("timeout", e.Timeout),
		slog.Int64("workers", e.Workers),
	)
}
