package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics captures settlement pipeline health signals.
type PaymentMetrics struct {
	callbacksReceived  *prometheus.CounterVec
	callbacksMalformed prometheus.Counter
	duplicateCallbacks prometheus.Counter
	activations        *prometheus.CounterVec
	unresolved         prometheus.Counter
	stkInitiations     *prometheus.CounterVec
}

var (
	paymentMetricsOnce sync.Once
	paymentMetrics     *PaymentMetrics
)

// Payments returns the singleton payment metrics registry.
func Payments() *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentMetrics = newPaymentMetrics()
	})
	return paymentMetrics
}

func newPaymentMetrics() *PaymentMetrics {
	return &PaymentMetrics{
		callbacksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukapos_mpesa_callbacks_total",
			Help: "M-Pesa callbacks ingested, by terminal outcome.",
		}, []string{"outcome"}),
		callbacksMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dukapos_mpesa_callbacks_malformed_total",
			Help: "Callbacks that failed to parse and were acknowledged anyway.",
		}),
		duplicateCallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dukapos_mpesa_callbacks_duplicate_total",
			Help: "Redelivered callbacks skipped by the ledger terminal-write guard.",
		}),
		activations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukapos_subscription_activations_total",
			Help: "Activation attempts by result and trigger source.",
		}, []string{"result", "source"}),
		unresolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dukapos_unresolved_payments_total",
			Help: "Settled payments that no resolver strategy could attribute.",
		}),
		stkInitiations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukapos_stk_initiations_total",
			Help: "STK push initiation attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *PaymentMetrics) IncCallback(outcome string) {
	if m == nil {
		return
	}
	m.callbacksReceived.WithLabelValues(outcome).Inc()
}

func (m *PaymentMetrics) IncMalformedCallback() {
	if m == nil {
		return
	}
	m.callbacksMalformed.Inc()
}

func (m *PaymentMetrics) IncDuplicateCallback() {
	if m == nil {
		return
	}
	m.duplicateCallbacks.Inc()
}

func (m *PaymentMetrics) IncActivation(result, source string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(result, source).Inc()
}

func (m *PaymentMetrics) IncUnresolved() {
	if m == nil {
		return
	}
	m.unresolved.Inc()
}

func (m *PaymentMetrics) IncStkInitiation(outcome string) {
	if m == nil {
		return
	}
	m.stkInitiations.WithLabelValues(outcome).Inc()
}
