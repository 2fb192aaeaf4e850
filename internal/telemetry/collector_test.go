package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwave/rfplane/pkg/card"
	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/xport"
)

func TestCollectorReportsControllerStats(t *testing.T) {
	m := xport.NewMockBackend(xport.WithProbeUIDs(4))
	reg := xport.NewRegistry(nil)
	_, err := reg.Register(m)
	require.NoError(t, err)
	mgr := card.NewManager(reg, nil, nil)

	c, err := mgr.InitCard(rf.XportCustom, 4, rf.LevelFull)
	require.NoError(t, err)

	require.NoError(t, c.Rx.Start(rf.RxA1))
	m.EnqueueRxBlock(rf.RxA1, 10, []byte{1, 2})
	res, err := c.Rx.Receive(rf.RxNoWait)
	require.NoError(t, err)
	require.Equal(t, rf.RxSuccess, res.Status)

	collector := NewCollector(mgr)

	expected := `
		# HELP rfplane_cards Cards currently initialized.
		# TYPE rfplane_cards gauge
		rfplane_cards 1
		# HELP rfplane_rx_blocks_total Receive blocks delivered to callers.
		# TYPE rfplane_rx_blocks_total counter
		rfplane_rx_blocks_total{card="4",handle="RxA1"} 1
		# HELP rfplane_rx_overruns_total Receive overruns observed.
		# TYPE rfplane_rx_overruns_total counter
		rfplane_rx_overruns_total{card="4",handle="RxA1"} 0
	`
	err = testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"rfplane_cards", "rfplane_rx_blocks_total", "rfplane_rx_overruns_total")
	assert.NoError(t, err)
}

func TestCollectorDescribesAllMetrics(t *testing.T) {
	reg := xport.NewRegistry(nil)
	mgr := card.NewManager(reg, nil, nil)
	collector := NewCollector(mgr)

	ch := make(chan *prometheus.Desc, 16)
	collector.Describe(ch)
	close(ch)

	var n int
	for range ch {
		n++
	}
	assert.Equal(t, 8, n)
}
