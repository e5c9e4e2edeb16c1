package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics exposed on /metrics
var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cyberscope",
		Subsystem: "collector",
		Name:      "cycles_total",
		Help:      "Ingestion cycles by outcome",
	}, []string{"status"})

	RecordsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyberscope",
		Subsystem: "collector",
		Name:      "records_fetched_total",
		Help:      "Raw records fetched from the disclosure feed",
	})

	RecordsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyberscope",
		Subsystem: "collector",
		Name:      "records_rejected_total",
		Help:      "Malformed records rejected by the normalizer",
	})

	EnrichmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cyberscope",
		Subsystem: "enrichment",
		Name:      "enrichments_total",
		Help:      "Completed enrichments by provider",
	}, []string{"provider"})

	EnrichmentTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyberscope",
		Subsystem: "enrichment",
		Name:      "tokens_total",
		Help:      "Tokens spent on LLM enrichment",
	})

	CacheRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cyberscope",
		Subsystem: "dashboard",
		Name:      "cache_refresh_total",
		Help:      "Aggregation cache recomputations by view",
	}, []string{"view"})
)
