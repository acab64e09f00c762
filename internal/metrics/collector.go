package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/snarg/callscribe/internal/broker"
)

// QueueStatser is satisfied by broker.Broker; kept as a narrow interface
// so the collector doesn't need the full Broker contract (and tests can
// supply a trivial double).
type QueueStatser interface {
	Stats(ctx context.Context, subject string) (broker.Stats, error)
}

// QueueCollector implements prometheus.Collector, reading live queue
// depth/consumers/rates from the broker at scrape time rather than
// tracking running gauges that could drift from the broker's own view.
type QueueCollector struct {
	b        QueueStatser
	subjects []string

	depth       *prometheus.Desc
	consumers   *prometheus.Desc
	ingressRate *prometheus.Desc
	egressRate  *prometheus.Desc
}

// NewQueueCollector builds a collector that scrapes broker.Stats for
// each of subjects every time Prometheus calls Collect.
func NewQueueCollector(b QueueStatser, subjects ...string) *QueueCollector {
	return &QueueCollector{
		b:        b,
		subjects: subjects,
		depth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "depth"),
			"Current number of undelivered messages in the subject's queue.",
			[]string{"subject"}, nil,
		),
		consumers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "consumers"),
			"Current number of live consumers on the subject.",
			[]string{"subject"}, nil,
		),
		ingressRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "ingress_rate"),
			"Recent messages/sec published to the subject.",
			[]string{"subject"}, nil,
		),
		egressRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "egress_rate"),
			"Recent messages/sec acknowledged on the subject.",
			[]string{"subject"}, nil,
		),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.consumers
	ch <- c.ingressRate
	ch <- c.egressRate
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	for _, subject := range c.subjects {
		stats, err := c.b.Stats(ctx, subject)
		if err != nil {
			continue // scrape is best-effort; a broker hiccup shouldn't break the whole page
		}
		ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(stats.Depth), subject)
		ch <- prometheus.MustNewConstMetric(c.consumers, prometheus.GaugeValue, float64(stats.ConsumerCount), subject)
		ch <- prometheus.MustNewConstMetric(c.ingressRate, prometheus.GaugeValue, stats.IngressRate, subject)
		ch <- prometheus.MustNewConstMetric(c.egressRate, prometheus.GaugeValue, stats.EgressRate, subject)
	}
}
