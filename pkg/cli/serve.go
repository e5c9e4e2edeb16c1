package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/cli/config"
	controller "github.com/secmon-lab/cyberscope/pkg/controller/http"
	"github.com/secmon-lab/cyberscope/pkg/service/enrich"
	"github.com/secmon-lab/cyberscope/pkg/service/risk"
	"github.com/secmon-lab/cyberscope/pkg/usecase"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var (
		serverCfg    config.Server
		firestoreCfg config.Firestore
		geminiCfg    config.Gemini
		feedCfg      config.Feed
		enrichCfg    config.Enrichment
		cacheCfg     config.Cache
		riskCfg      config.Risk
		slackCfg     config.Slack
	)

	flags := joinFlags(
		serverCfg.Flags(),
		firestoreCfg.Flags(),
		geminiCfg.Flags(),
		feedCfg.Flags(),
		enrichCfg.Flags(),
		cacheCfg.Flags(),
		riskCfg.Flags(),
		slackCfg.Flags(),
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Start the ingestion scheduler and dashboard API server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := ctxlog.From(ctx)

			logger.Info("Starting cyberscope server",
				slog.String("addr", serverCfg.Addr),
				slog.Any("firestore", firestoreCfg),
				slog.Any("gemini", geminiCfg),
				slog.Any("feed", feedCfg),
				slog.Any("enrichment", enrichCfg),
				slog.Any("cache", cacheCfg),
				slog.Any("slack", slackCfg),
			)

			repo, err := firestoreCfg.Configure(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			policy, err := riskCfg.Configure()
			if err != nil {
				return err
			}
			engine := risk.NewEngine(policy)

			llmClient := geminiCfg.ConfigureOptional(ctx, logger)
			if closer, ok := llmClient.(interface{ Close() error }); ok && closer != nil {
				defer closer.Close()
			}

			quota := enrich.NewTokenQuota(enrichCfg.DailyQuota, time.Now())
			enricher := enrich.New(llmClient, quota,
				enrich.WithPromptBudget(int(enrichCfg.PromptBudget)),
				enrich.WithTimeout(enrichCfg.Timeout),
			)

			collectorOpts := []usecase.CollectorOption{
				usecase.WithMaxRecords(int(feedCfg.MaxRecords)),
				usecase.WithEnrichWorkers(int(enrichCfg.Workers)),
			}
			if notifier := slackCfg.ConfigureOptional(); notifier != nil {
				collectorOpts = append(collectorOpts, usecase.WithNotifier(notifier))
			}
			collector := usecase.NewCollector(repo, feedCfg.Configure(), engine, enricher, collectorOpts...)

			scheduler := usecase.NewScheduler(collector, feedCfg.CycleInterval)
			dashboard := usecase.NewDashboard(repo, engine,
				usecase.WithStaleness(cacheCfg.Staleness),
			)

			server := controller.NewServer(ctx, serverCfg.Addr, dashboard, scheduler)

			schedulerCtx, stopScheduler := context.WithCancel(ctx)
			defer stopScheduler()
			go func() {
				if err := scheduler.Run(schedulerCtx); err != nil && err != context.Canceled {
					logger.Error("Scheduler error", slog.Any("error", err))
				}
			}()

			go func() {
				logger.Info("HTTP server starting", slog.String("addr", serverCfg.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("HTTP server error", slog.Any("error", err))
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			select {
			case <-ctx.Done():
				logger.Info("Context cancelled, shutting down...")
			case sig := <-sigChan:
				logger.Info("Signal received, shutting down...", slog.Any("signal", sig))
			}

			// Stop the scheduler first so a running cycle aborts
			// without advancing its checkpoint
			stopScheduler()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown server gracefully")
			}

			logger.Info("Server shutdown complete")
			return nil
		},
	}
}
