package metricsx

import (
	"testing"

	"github.com/VictoriaMetrics/metrics"
)

func TestLabeledCounter(t *testing.T) {
	set := metrics.NewSet()
	lc := NewLabeledCounter(set, "kcp2k_rx_datagrams", `channel="reliable"`)

	lc.Get("a").Inc()
	lc.Get("a").Inc()
	lc.Get("b").Inc()

	if v := lc.Get("a").Get(); v != 2 {
		t.Errorf("counter a: got %d, want 2", v)
	}
	if v := lc.Get("b").Get(); v != 1 {
		t.Errorf("counter b: got %d, want 1", v)
	}
}
