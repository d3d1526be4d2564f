package metricsx

import "github.com/VictoriaMetrics/metrics"

// LabeledCounter is a set of counters sharing a metric name but split by the
// value of a single label named `value`, e.g.
// `kcp2k_rx_datagrams_total{value="reliable"}` next to
// `kcp2k_rx_datagrams_total{value="unreliable"}`. The metric name is split
// once at construction; [LabeledCounter.Get] still formats the full name on
// every call.
type LabeledCounter struct {
	set   *metrics.Set
	base  string
	label string
}

// NewLabeledCounter creates a LabeledCounter writing to set, named name
// (which may already include a `{...}` label set). label, if non-empty, is
// a fixed label set (e.g. `channel="reliable"`) added to every counter
// before the `value` label.
func NewLabeledCounter(set *metrics.Set, name, label string) *LabeledCounter {
	base, arg := splitName(name)
	return &LabeledCounter{set: set, base: base, label: joinArg(arg, label)}
}

func joinArg(arg, label string) string {
	if arg == "" {
		return label
	}
	if label == "" {
		return arg
	}
	return arg + "," + label
}

// Get returns the counter for the given label value, creating it if needed.
func (l *LabeledCounter) Get(value string) *metrics.Counter {
	return l.set.GetOrCreateCounter(formatName(l.base, l.label, "value", value))
}
