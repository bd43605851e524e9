// Package metrics exposes Prometheus counters for the collection and
// delivery pipeline. All counters register on the default registry and are
// served from the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CollectionPasses counts completed collection passes, by outcome.
	CollectionPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedlens_collection_passes_total",
		Help: "Completed collection passes by outcome.",
	}, []string{"outcome"})

	// PostsExtracted counts posts pulled from the surface, by platform.
	PostsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedlens_posts_extracted_total",
		Help: "Posts extracted from the surface by platform.",
	}, []string{"platform"})

	// DedupHits counts posts dropped as duplicates.
	DedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedlens_dedup_hits_total",
		Help: "Posts dropped because their fingerprint was already seen.",
	})

	// BatchesDelivered counts batches accepted by the collector.
	BatchesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedlens_batches_delivered_total",
		Help: "Batches accepted by the collector by platform.",
	}, []string{"platform"})

	// PostsDelivered counts posts inside accepted batches.
	PostsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedlens_posts_delivered_total",
		Help: "Posts inside accepted batches by platform.",
	}, []string{"platform"})

	// BatchesFailed counts batches that exhausted retries, by error kind.
	BatchesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedlens_batches_failed_total",
		Help: "Batches that exhausted delivery retries by error kind.",
	}, []string{"kind"})

	// DeliveryRetries counts individual delivery retry attempts.
	DeliveryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedlens_delivery_retries_total",
		Help: "Individual delivery retry attempts.",
	})

	// Failovers counts collector endpoint switches.
	Failovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedlens_endpoint_failovers_total",
		Help: "Collector endpoint failover events.",
	})
)
