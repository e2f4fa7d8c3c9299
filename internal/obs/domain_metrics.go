package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// AgreementTotal counts agreement creation attempts by result.
	AgreementTotal *prometheus.CounterVec
	// AgreementLatency records processor round trips for agreement creation in milliseconds.
	AgreementLatency *prometheus.HistogramVec
	// IPNTotal counts inbound payment notifications by declared status and result.
	IPNTotal *prometheus.CounterVec
	// StatusUpdateTotal counts backend status-update calls by result.
	StatusUpdateTotal *prometheus.CounterVec
	// WalletLookupTotal counts merchant wallet lookups by result.
	WalletLookupTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		AgreementTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agreement_total",
			Help:      "Count of payment agreement creation outcomes.",
		}, []string{"result"})
		AgreementLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agreement_duration_ms",
			Help:      "Latency of agreement creation calls in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000},
		}, []string{"result"})
		IPNTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ipn_total",
			Help:      "Count of processed payment notifications by outcome.",
		}, []string{"status", "result"})
		StatusUpdateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_update_total",
			Help:      "Count of backend status-update calls by outcome.",
		}, []string{"result"})
		WalletLookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_lookup_total",
			Help:      "Count of merchant wallet lookups by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, AgreementTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				AgreementTotal = v
			}
		})
		mustRegisterCollector(reg, AgreementLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				AgreementLatency = v
			}
		})
		mustRegisterCollector(reg, IPNTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				IPNTotal = v
			}
		})
		mustRegisterCollector(reg, StatusUpdateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				StatusUpdateTotal = v
			}
		})
		mustRegisterCollector(reg, WalletLookupTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WalletLookupTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
