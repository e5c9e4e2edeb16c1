package config

import (
	"log/slog"
	"time"

	"github.com/secmon-lab/cyberscope/pkg/domain/interfaces"
	"github.com/secmon-lab/cyberscope/pkg/service/feed"
	"github.com/urfave/cli/v3"
)

// Feed holds disclosure feed configuration
type Feed struct {
	Endpoint      string
	APIKey        string
	PageSize      int64
	MaxRecords    int64
	CycleInterval time.Duration
}

// Flags returns CLI flags for Feed configuration
func (f *Feed) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "feed-endpoint",
			Usage:       "Disclosure feed endpoint",
			Category:    "Feed",
			Value:       "https://services.nvd.nist.gov/rest/json/cves/2.0",
			Sources:     cli.EnvVars("CYBERSCOPE_FEED_ENDPOINT"),
			Destination: &f.Endpoint,
		},
		&cli.StringFlag{
			Name:        "feed-api-key",
			Usage:       "API key for the disclosure feed",
			Category:    "Feed",
			Sources:     cli.EnvVars("CYBERSCOPE_FEED_API_KEY"),
			Destination: &f.APIKey,
		},
		&cli.Int64Flag{
			Name:        "feed-page-size",
			Usage:       "Records per feed page",
			Category:    "Feed",
			Value:       200,
			Sources:     cli.EnvVars("CYBERSCOPE_FEED_PAGE_SIZE"),
			Destination: &f.PageSize,
		},
		&cli.Int64Flag{
			Name:        "feed-max-records",
			Usage:       "Per-cycle record cap",
			Category:    "Feed",
			Value:       2000,
			Sources:     cli.EnvVars("CYBERSCOPE_FEED_MAX_RECORDS"),
			Destination: &f.MaxRecords,
		},
		&cli.DurationFlag{
			Name:        "cycle-interval",
			Usage:       "Interval between ingestion cycles",
			Category:    "Feed",
			Value:       24 * time.Hour,
			Sources:     cli.EnvVars("CYBERSCOPE_CYCLE_INTERVAL"),
			Destination: &f.CycleInterval,
		},
	}
}

// Configure creates the feed client
func (f *Feed) Configure() interfaces.FeedClient {
	opts := []feed.NVDOption{
		feed.WithPageSize(int(f.PageSize)),
	}
	if f.APIKey != "" {
		opts = append(opts, feed.WithAPIKey(f.APIKey))
	}
	return feed.NewNVDClient(f.Endpoint, opts...)
}

// LogValue returns structured log value
func (f Feed) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("endpoint", f.Endpoint),
		slog.Bool("hasAPIKey", f.APIKey != ""),
		slog.Int64("pageSize", f.PageSize),
		slog.Int64("maxRecords", f.MaxRecords),
		slog.Duration("cycleInterval", f.CycleInterval),
	)
}
