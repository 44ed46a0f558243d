package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hk_arb_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		OrdersPlaced:       promCounter{counter("orders_placed_total", "Total number of orders placed.")},
		OrdersFailed:       promCounter{counter("orders_failed_total", "Total number of order placement failures.")},
		EntriesCompleted:   promCounter{counter("entries_completed_total", "Total number of two-leg entries confirmed on both venues.")},
		EntriesFailed:      promCounter{counter("entries_failed_total", "Total number of entry attempts that did not open a position.")},
		ExitsCompleted:     promCounter{counter("exits_completed_total", "Total number of two-leg exits confirmed on both venues.")},
		ExitsFailed:        promCounter{counter("exits_failed_total", "Total number of exit attempts that left the position open.")},
		Reverts:            promCounter{counter("reverts_total", "Total number of compensating spot sell-backs after a failed perp leg.")},
		ManualIntervention: promCounter{counter("manual_intervention_total", "Total number of escalations requiring operator resolution.")},
		FeedReconnects:     promCounter{counter("feed_reconnects_total", "Total number of market-data feed reconnect attempts.")},
		FeedDrops:          promCounter{counter("feed_drops_total", "Total number of inbound feed messages dropped by the bounded queue.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
