package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading",
		Name:      "orders_total",
		Help:      "Total orders by symbol, type and admission result.",
	}, []string{"symbol", "type", "result"})

	tradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading",
		Name:      "trades_total",
		Help:      "Total trades produced by the matching engine.",
	}, []string{"symbol"})

	orderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trading",
		Name:      "order_latency_seconds",
		Help:      "Submit-to-ack latency of order admission.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"symbol"})

	fanoutDeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trading",
		Name:      "fanout_dead_letters_total",
		Help:      "Events moved to the dead-letter buffer after retry exhaustion.",
	})

	fanoutQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trading",
		Name:      "fanout_queue_drops_total",
		Help:      "Events dropped because the fan-out queue was full.",
	})
)
