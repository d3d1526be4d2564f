package conn

import (
	"io"

	"github.com/VictoriaMetrics/metrics"

	"github.com/r2northstar/kcp2k/internal/proto"
	"github.com/r2northstar/kcp2k/pkg/metricsx"
)

// Metrics tracks counters shared by every connection owned by one endpoint.
type Metrics struct {
	set *metrics.Set

	rxDatagramsByChannel *metricsx.LabeledCounter
	rxBytesByChannel     *metricsx.LabeledCounter
	txDatagramsByChannel *metricsx.LabeledCounter
	txBytesByChannel     *metricsx.LabeledCounter

	handshakes  *metrics.Counter
	disconnects *metrics.Counter
	liveConns   *metrics.Counter
}

// NewMetrics creates a Metrics bundle backed by its own VictoriaMetrics set,
// so multiple endpoints in one process don't collide on metric names.
func NewMetrics() *Metrics {
	set := metrics.NewSet()
	return &Metrics{
		set:                  set,
		rxDatagramsByChannel: metricsx.NewLabeledCounter(set, "kcp2k_rx_datagrams_total", ""),
		rxBytesByChannel:     metricsx.NewLabeledCounter(set, "kcp2k_rx_bytes_total", ""),
		txDatagramsByChannel: metricsx.NewLabeledCounter(set, "kcp2k_tx_datagrams_total", ""),
		txBytesByChannel:     metricsx.NewLabeledCounter(set, "kcp2k_tx_bytes_total", ""),
		handshakes:           set.GetOrCreateCounter("kcp2k_handshakes_total"),
		disconnects:          set.GetOrCreateCounter("kcp2k_disconnects_total"),
		liveConns:            set.GetOrCreateCounter("kcp2k_connections_total"),
	}
}

func (m *Metrics) rxDatagrams(ch proto.Channel, n int) {
	m.rxDatagramsByChannel.Get(ch.String()).Inc()
	m.rxBytesByChannel.Get(ch.String()).Add(n)
}

func (m *Metrics) txDatagrams(ch proto.Channel, n int) {
	m.txDatagramsByChannel.Get(ch.String()).Inc()
	m.txBytesByChannel.Get(ch.String()).Add(n)
}

func (m *Metrics) handshakeCompleted() { m.handshakes.Inc() }
func (m *Metrics) disconnected()       { m.disconnects.Inc() }
func (m *Metrics) connectionOpened()   { m.liveConns.Inc() }

// WritePrometheus writes prometheus text-format metrics to w, following the
// convention of pkg/nspkt.Listener.WritePrometheus.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
