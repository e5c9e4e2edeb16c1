package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/secmon-lab/cyberscope/pkg/cli/config"
	"github.com/secmon-lab/cyberscope/pkg/service/enrich"
	"github.com/secmon-lab/cyberscope/pkg/service/risk"
	"github.com/secmon-lab/cyberscope/pkg/usecase"
	"github.com/urfave/cli/v3"
)

func cmdCollect() *cli.Command {
	var (
		firestoreCfg config.Firestore
		geminiCfg    config.Gemini
		feedCfg      config.Feed
		enrichCfg    config.Enrichment
		riskCfg      config.Risk
	)

	flags := joinFlags(
		firestoreCfg.Flags(),
		geminiCfg.Flags(),
		feedCfg.Flags(),
		enrichCfg.Flags(),
		riskCfg.Flags(),
	)

	return &cli.Command{
		Name:  "collect",
		Usage: "Run a single ingestion cycle and exit",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			repo, err := firestoreCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			policy, err := riskCfg.Configure()
			if err != nil {
				return err
			}

			llmClient := geminiCfg.ConfigureOptional(ctx, logger)
			if closer, ok := llmClient.(interface{ Close() error }); ok && closer != nil {
				defer closer.Close()
			}

			quota := enrich.NewTokenQuota(enrichCfg.DailyQuota, time.Now())
			enricher := enrich.New(llmClient, quota,
				enrich.WithPromptBudget(int(enrichCfg.PromptBudget)),
				enrich.WithTimeout(enrichCfg.Timeout),
			)

			collector := usecase.NewCollector(repo, feedCfg.Configure(), risk.NewEngine(policy), enricher,
				usecase.WithMaxRecords(int(feedCfg.MaxRecords)),
				usecase.WithEnrichWorkers(int(enrichCfg.Workers)),
			)

			report, err := collector.RunCycle(ctx)
			if err != nil {
				return err
			}

			logger.Info("Collection finished", slog.Any("report", report))
			return nil
		},
	}
}
