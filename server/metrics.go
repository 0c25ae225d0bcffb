package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nftguard/nftguard/chain"
)

// requestMetrics counts contract status requests by chain.
type requestMetrics struct {
	requests *prometheus.CounterVec
}

func newRequestMetrics(reg prometheus.Registerer) *requestMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &requestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nftguard_requests_total",
			Help: "Contract status requests served, by chain.",
		}, []string{"chain_id"}),
	}
	reg.MustRegister(m.requests)
	return m
}

func (m *requestMetrics) Observe(id chain.ID, addresses int) {
	m.requests.WithLabelValues(strconv.FormatUint(uint64(id), 10)).Add(float64(addresses))
}
