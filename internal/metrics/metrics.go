// ./internal/metrics/metrics.go
package metrics

import (
	"math"
	"strings"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/purplewavefinance/vault-core/internal/utils"
)

/*
This file exposes the Prometheus collectors for the vault daemon. A single
lazily-initialised registry tracks vault accounting gauges and harvest cycle
counters; callers go through the typed helpers rather than touching the
collectors directly.
*/

// VaultMetrics bundles the collectors tracking vault accounting and
// harvest cycle health.
type VaultMetrics struct {
	totalAssets    prometheus.Gauge
	totalIdle      prometheus.Gauge
	totalAllocated prometheus.Gauge
	lockedProfit   prometheus.Gauge
	pricePerShare  prometheus.Gauge
	totalDebtRatio prometheus.Gauge
	strategyCount  prometheus.Gauge

	harvests       *prometheus.CounterVec
	harvestErrors  *prometheus.CounterVec
	harvestLatency *prometheus.HistogramVec
	strategyGains  *prometheus.GaugeVec
	strategyLosses *prometheus.GaugeVec
	strategyDebt   *prometheus.GaugeVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Vault returns the singleton metrics registry for the vault daemon.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			totalAssets: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "total_assets",
				Help:      "Total assets tracked by the vault in base units (idle plus allocated).",
			}),
			totalIdle: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "total_idle",
				Help:      "Unallocated funds held by the vault in base units.",
			}),
			totalAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "total_allocated",
				Help:      "Funds allocated to strategies in base units.",
			}),
			lockedProfit: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "locked_profit",
				Help:      "Profit still locked behind the degradation schedule in base units.",
			}),
			pricePerShare: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "price_per_share",
				Help:      "Current value of one vault share in base units.",
			}),
			totalDebtRatio: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "total_debt_ratio_bps",
				Help:      "Sum of active strategy debt ratios in basis points.",
			}),
			strategyCount: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "ledger",
				Name:      "strategy_count",
				Help:      "Number of strategies registered with the vault.",
			}),
			harvests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "harvest",
				Name:      "cycles_total",
				Help:      "Count of completed harvests segmented by strategy and outcome.",
			}, []string{"strategy", "outcome"}),
			harvestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "harvest",
				Name:      "errors_total",
				Help:      "Count of harvest failures segmented by strategy and reason.",
			}, []string{"strategy", "reason"}),
			harvestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vault",
				Subsystem: "harvest",
				Name:      "duration_seconds",
				Help:      "Latency distribution for harvest executions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"strategy"}),
			strategyGains: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "strategy",
				Name:      "cumulative_gains",
				Help:      "Lifetime reported gains per strategy in base units.",
			}, []string{"strategy"}),
			strategyLosses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "strategy",
				Name:      "cumulative_losses",
				Help:      "Lifetime reported losses per strategy in base units.",
			}, []string{"strategy"}),
			strategyDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "vault",
				Subsystem: "strategy",
				Name:      "allocated",
				Help:      "Current allocation per strategy in base units.",
			}, []string{"strategy"}),
		}
		prometheus.MustRegister(
			vaultRegistry.totalAssets,
			vaultRegistry.totalIdle,
			vaultRegistry.totalAllocated,
			vaultRegistry.lockedProfit,
			vaultRegistry.pricePerShare,
			vaultRegistry.totalDebtRatio,
			vaultRegistry.strategyCount,
			vaultRegistry.harvests,
			vaultRegistry.harvestErrors,
			vaultRegistry.harvestLatency,
			vaultRegistry.strategyGains,
			vaultRegistry.strategyLosses,
			vaultRegistry.strategyDebt,
		)
	})
	return vaultRegistry
}

// RecordSnapshot updates the ledger gauges from the latest vault totals.
func (m *VaultMetrics) RecordSnapshot(totalAssets, totalIdle, totalAllocated, lockedProfit sdkmath.Int, totalDebtRatio uint64, strategyCount int) {
	if m == nil {
		return
	}
	m.totalAssets.Set(intToFloat(totalAssets))
	m.totalIdle.Set(intToFloat(totalIdle))
	m.totalAllocated.Set(intToFloat(totalAllocated))
	m.lockedProfit.Set(intToFloat(lockedProfit))
	m.totalDebtRatio.Set(float64(totalDebtRatio))
	m.strategyCount.Set(float64(strategyCount))
}

// RecordPricePerShare updates the price-per-share gauge.
func (m *VaultMetrics) RecordPricePerShare(price sdkmath.LegacyDec) {
	if m == nil {
		return
	}
	v, err := price.Float64()
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	m.pricePerShare.Set(v)
}

// RecordHarvest records the outcome and latency of one harvest execution.
func (m *VaultMetrics) RecordHarvest(strategy string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	label := labelStrategy(strategy)
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.harvestErrors.WithLabelValues(label, reason).Inc()
	}
	m.harvests.WithLabelValues(label, outcome).Inc()
	m.harvestLatency.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordStrategy updates the per-strategy allocation and lifetime gauges.
func (m *VaultMetrics) RecordStrategy(strategy string, allocated, gains, losses sdkmath.Int) {
	if m == nil {
		return
	}
	label := labelStrategy(strategy)
	m.strategyDebt.WithLabelValues(label).Set(intToFloat(allocated))
	m.strategyGains.WithLabelValues(label).Set(intToFloat(gains))
	m.strategyLosses.WithLabelValues(label).Set(intToFloat(losses))
}

func labelStrategy(strategy string) string {
	trimmed := strings.TrimSpace(strategy)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func intToFloat(value sdkmath.Int) float64 {
	floatVal, err := utils.SDKIntToFloat64(value, 0)
	if err != nil {
		return 0
	}
	return floatVal
}
