package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "opt_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGapGauge struct {
	vec *prometheus.GaugeVec
}

func (p promGapGauge) Set(underlying string, gap float64) {
	p.vec.WithLabelValues(underlying).Set(gap)
}

type Prometheus struct {
	Metrics *Metrics

	registry          *prometheus.Registry
	cyclesRun         prometheus.Counter
	partialSkipped    prometheus.Counter
	intentsDispatched prometheus.Counter
	ordersFilled      prometheus.Counter
	ordersPartial     prometheus.Counter
	ordersRejected    prometheus.Counter
	ordersFailed      prometheus.Counter
	deltaGap          *prometheus.GaugeVec
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	cyclesRun := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_run_total",
		Help:      "Total number of reconcile cycles run.",
	})
	partialSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "partial_skipped_total",
		Help:      "Total number of underlyings skipped for partial delta data.",
	})
	intentsDispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "intents_dispatched_total",
		Help:      "Total number of hedge intents dispatched.",
	})
	ordersFilled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_filled_total",
		Help:      "Total number of hedge orders filled in full.",
	})
	ordersPartial := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_partial_total",
		Help:      "Total number of hedge orders filled partially.",
	})
	ordersRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_rejected_total",
		Help:      "Total number of hedge orders rejected by the venue.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of hedge order failures.",
	})
	deltaGap := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "delta_gap",
		Help:      "Current hedge gap per underlying.",
	}, []string{"underlying"})

	registry.MustRegister(cyclesRun, partialSkipped, intentsDispatched, ordersFilled, ordersPartial, ordersRejected, ordersFailed, deltaGap)

	m := &Metrics{
		CyclesRun:         promCounter{cyclesRun},
		PartialSkipped:    promCounter{partialSkipped},
		IntentsDispatched: promCounter{intentsDispatched},
		OrdersFilled:      promCounter{ordersFilled},
		OrdersPartial:     promCounter{ordersPartial},
		OrdersRejected:    promCounter{ordersRejected},
		OrdersFailed:      promCounter{ordersFailed},
		DeltaGap:          promGapGauge{deltaGap},
	}

	return &Prometheus{
		Metrics:           m,
		registry:          registry,
		cyclesRun:         cyclesRun,
		partialSkipped:    partialSkipped,
		intentsDispatched: intentsDispatched,
		ordersFilled:      ordersFilled,
		ordersPartial:     ordersPartial,
		ordersRejected:    ordersRejected,
		ordersFailed:      ordersFailed,
		deltaGap:          deltaGap,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
