package gossip

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	commands        *prometheus.CounterVec
	malformed       prometheus.Counter
	observed        prometheus.Counter
	relaysSent      prometheus.Counter
	relaysFailed    prometheus.Counter
	relaysThrottled prometheus.Counter
	peers           prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, id NodeID) (*metrics, error) {
	labels := prometheus.Labels{`node`: idLabel(id)}
	m := &metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   `gossip`,
			Name:        `commands_total`,
			Help:        `Inbound commands handled, by verb.`,
			ConstLabels: labels,
		}, []string{`command`}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   `gossip`,
			Name:        `malformed_commands_total`,
			Help:        `Inbound command lines that could not be parsed.`,
			ConstLabels: labels,
		}),
		observed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   `gossip`,
			Name:        `messages_observed_total`,
			Help:        `Distinct messages seen for the first time.`,
			ConstLabels: labels,
		}),
		relaysSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   `gossip`,
			Name:        `relays_sent_total`,
			Help:        `Relays delivered to a peer.`,
			ConstLabels: labels,
		}),
		relaysFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   `gossip`,
			Name:        `relays_failed_total`,
			Help:        `Relays dropped because the peer was unreachable.`,
			ConstLabels: labels,
		}),
		relaysThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   `gossip`,
			Name:        `relays_throttled_total`,
			Help:        `Inbound relays accepted but not forwarded because the sender exceeded its budget.`,
			ConstLabels: labels,
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   `gossip`,
			Name:        `peers`,
			Help:        `Current size of the peer set.`,
			ConstLabels: labels,
		}),
	}
	for _, c := range []prometheus.Collector{
		m.commands, m.malformed, m.observed, m.relaysSent, m.relaysFailed, m.relaysThrottled, m.peers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
