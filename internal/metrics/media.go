// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlobLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_blob_lookups_total",
		Help: "Durable blob store lookups by backend and result (hit, miss, expired, error)",
	}, []string{"backend", "result"})

	BlobExpiredDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ron_blob_expired_deleted_total",
		Help: "Blob entries removed because they were past their expiry",
	})

	MediaFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_media_fetches_total",
		Help: "Network media fetches by result (ok, error, shared)",
	}, []string{"result"})

	MediaFetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ron_media_fetch_bytes_total",
		Help: "Bytes downloaded from the content backend",
	})

	MediaFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ron_media_fetch_duration_seconds",
		Help:    "Duration of individual media downloads",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	BulkDownloadAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_bulk_download_attempts_total",
		Help: "Bulk download item attempts by result (ok, cached, error)",
	}, []string{"result"})

	BulkDownloadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ron_bulk_download_in_flight",
		Help: "Number of media fetches currently running inside a bulk download",
	})

	SignedURLRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ron_signed_url_requests_total",
		Help: "Signed URL resolutions by source (cache, backend, error)",
	}, []string{"source"})
)

// RecordBlobLookup increments the blob lookup counter.
func RecordBlobLookup(backend, result string) {
	BlobLookupsTotal.WithLabelValues(backend, result).Inc()
}

// RecordBulkAttempt increments the bulk attempt counter.
func RecordBulkAttempt(result string) {
	BulkDownloadAttemptsTotal.WithLabelValues(result).Inc()
}
