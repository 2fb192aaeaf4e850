// Package telemetry exposes streaming counters as Prometheus metrics.
// The collector snapshots controller stats at scrape time; nothing in the
// data path pays for metrics between scrapes.
package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldwave/rfplane/pkg/card"
	"github.com/fieldwave/rfplane/pkg/rf"
)

const namespace = "rfplane"

var (
	cardLabelNames    = []string{"card"}
	channelLabelNames = []string{"card", "handle"}

	rxBlocksMetric = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "rx", "blocks_total"),
		"Receive blocks delivered to callers.", channelLabelNames, nil)
	rxOverrunsMetric = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "rx", "overruns_total"),
		"Receive overruns observed.", channelLabelNames, nil)

	txSentMetric = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "tx", "sent_total"),
		"Transmit blocks committed to the transport.", cardLabelNames, nil)
	txLateMetric = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "tx", "late_total"),
		"Transmit blocks dropped for late timestamps.", cardLabelNames, nil)
	txUnderrunsMetric = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "tx", "underruns_total"),
		"Transmit queue underruns.", cardLabelNames, nil)
	txCompletionsMetric = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "tx", "completions_total"),
		"Transmit completion callbacks invoked.", cardLabelNames, nil)
	txQueueDepthMetric = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "tx", "queue_depth"),
		"Transmit blocks currently in flight.", cardLabelNames, nil)

	cardsMetric = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "cards"),
		"Cards currently initialized.", nil, nil)
)

// Collector implements prometheus.Collector over a card manager.
type Collector struct {
	mgr *card.Manager
}

// NewCollector returns a collector reading from mgr.
func NewCollector(mgr *card.Manager) *Collector {
	return &Collector{mgr: mgr}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- rxBlocksMetric
	ch <- rxOverrunsMetric
	ch <- txSentMetric
	ch <- txLateMetric
	ch <- txUnderrunsMetric
	ch <- txCompletionsMetric
	ch <- txQueueDepthMetric
	ch <- cardsMetric
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	cards := c.mgr.Cards()
	ch <- prometheus.MustNewConstMetric(cardsMetric, prometheus.GaugeValue, float64(len(cards)))

	for _, cd := range cards {
		if cd.Rx == nil {
			continue
		}
		cardLabel := strconv.FormatUint(uint64(cd.UID), 10)

		for h := rf.RxA1; h.Valid(); h++ {
			stats := cd.Rx.Stats(h)
			if stats.Blocks == 0 && stats.Overruns == 0 {
				continue
			}
			ch <- prometheus.MustNewConstMetric(rxBlocksMetric,
				prometheus.CounterValue, float64(stats.Blocks), cardLabel, h.String())
			ch <- prometheus.MustNewConstMetric(rxOverrunsMetric,
				prometheus.CounterValue, float64(stats.Overruns), cardLabel, h.String())
		}

		tx := cd.Tx.Stats()
		ch <- prometheus.MustNewConstMetric(txSentMetric,
			prometheus.CounterValue, float64(tx.Sent), cardLabel)
		ch <- prometheus.MustNewConstMetric(txLateMetric,
			prometheus.CounterValue, float64(tx.Late), cardLabel)
		ch <- prometheus.MustNewConstMetric(txUnderrunsMetric,
			prometheus.CounterValue, float64(tx.Underruns), cardLabel)
		ch <- prometheus.MustNewConstMetric(txCompletionsMetric,
			prometheus.CounterValue, float64(tx.Completions), cardLabel)
		ch <- prometheus.MustNewConstMetric(txQueueDepthMetric,
			prometheus.GaugeValue, float64(tx.Queued), cardLabel)
	}
}
