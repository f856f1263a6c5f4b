// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the extraction phase. Exposed via the optional
// --metrics-addr endpoint; a multi-hour scan over a tens-of-GB ledger is
// worth watching from the outside.
var (
	metricRecordsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerseq_extract_records_scanned_total",
		Help: "Ledger records consumed by the streaming extractor.",
	})
	metricRecordsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerseq_extract_records_matched_total",
		Help: "Records appended to at least one entity partition.",
	})
	metricRecordsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerseq_extract_records_discarded_total",
		Help: "Records whose endpoints are both outside the entity universe.",
	})
	metricParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerseq_extract_parse_errors_total",
		Help: "Malformed ledger records skipped during extraction.",
	})
	metricChunkCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledgerseq_extract_chunk_cursor",
		Help: "Checkpointable cursor position after the last processed chunk.",
	})
	metricCheckpointsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerseq_extract_checkpoints_saved_total",
		Help: "Checkpoints durably recorded by the extractor.",
	})
)
