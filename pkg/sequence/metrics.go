// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sequence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricSequencesBuilt = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ledgerseq_sequences_built_total",
	Help: "Entity sequence tensors written.",
})
