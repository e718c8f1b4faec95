// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kraklabs/elenchus/pkg/model"
	"github.com/kraklabs/elenchus/pkg/safeguards"
)

// Metrics is the process-wide Prometheus registry the dispatcher updates as
// it serves requests: rounds submitted, cache hits/misses, tier
// escalations, and the most recent safeguards quality level per session.
// Collection is opt-in — NewApp always builds one, but it's only scraped
// when `elenchus serve --metrics-addr` starts the HTTP handler.
type Metrics struct {
	Registry *prometheus.Registry

	roundsSubmitted *prometheus.CounterVec
	cacheHits       prometheus.Gauge
	cacheMisses     prometheus.Gauge
	tierEscalations *prometheus.CounterVec
	qualityLevel    *prometheus.GaugeVec
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		roundsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elenchus",
			Name:      "rounds_submitted_total",
			Help:      "Rounds admitted by the session engine, by role.",
		}, []string{"role"}),
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "elenchus",
			Name:      "cache_hits_total",
			Help:      "Cumulative verification cache lookups that returned a usable hit.",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "elenchus",
			Name:      "cache_misses_total",
			Help:      "Cumulative verification cache lookups that missed (absent, expired, or below minConfidence).",
		}),
		tierEscalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "elenchus",
			Name:      "tier_escalations_total",
			Help:      "Pipeline tier completions that escalated to the next tier, by destination tier.",
		}, []string{"to_tier"}),
		qualityLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "elenchus",
			Name:      "safeguards_quality_level",
			Help:      "Most recent safeguards quality level per session, as an ordinal (0=UNACCEPTABLE .. 4=EXCELLENT).",
		}, []string{"session_id"}),
	}

	reg.MustRegister(m.roundsSubmitted, m.cacheHits, m.cacheMisses, m.tierEscalations, m.qualityLevel)
	return m
}

// observeRound records one admitted round.
func (m *Metrics) observeRound(role model.Role) {
	if m == nil {
		return
	}
	m.roundsSubmitted.WithLabelValues(string(role)).Inc()
}

// observeCacheStats syncs the exported cache hit/miss totals to the cache's
// own cumulative counters (cache.Cache.Stats is the source of truth; these
// gauges just make it scrapeable).
func (m *Metrics) observeCacheStats(hits, misses int64) {
	if m == nil {
		return
	}
	m.cacheHits.Set(float64(hits))
	m.cacheMisses.Set(float64(misses))
}

// observeTierEscalation records one pipeline tier completion that chose to
// escalate, labeled by the tier it escalated into.
func (m *Metrics) observeTierEscalation(toTier string) {
	if m == nil || toTier == "" {
		return
	}
	m.tierEscalations.WithLabelValues(toTier).Inc()
}

// qualityLevelOrdinal maps a safeguards.Level to the ordinal the quality
// gauge reports.
func qualityLevelOrdinal(level safeguards.Level) float64 {
	switch level {
	case safeguards.LevelExcellent:
		return 4
	case safeguards.LevelGood:
		return 3
	case safeguards.LevelAcceptable:
		return 2
	case safeguards.LevelPoor:
		return 1
	default: // LevelUnacceptable
		return 0
	}
}

// observeQuality records a session's most recent safeguards quality level.
func (m *Metrics) observeQuality(sessionID string, level safeguards.Level) {
	if m == nil || sessionID == "" {
		return
	}
	m.qualityLevel.WithLabelValues(sessionID).Set(qualityLevelOrdinal(level))
}
