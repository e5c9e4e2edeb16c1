package config

import (
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"
)

// Cache holds aggregation cache configuration
type Cache struct {
	Staleness time.Duration
}

// Flags returns CLI flags for Cache configuration
func (c *Cache) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:        "cache-staleness",
			Usage:       "Staleness window for dashboard view caches",
			Category:    "Cache",
			Value:       5 * time.Minute,
			Sources:     cli.EnvVars("CYBERSCOPE_CACHE_STALENESS"),
			Destination: &c.Staleness,
		},
	}
}

// LogValue returns structured log value
func (c Cache) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("staleness", c.Staleness),
	)
}
