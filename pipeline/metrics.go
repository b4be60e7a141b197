package pipeline

import "github.com/prometheus/client_golang/prometheus"

const namespace = "retsnoop"

var (
	eventsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "events_total"),
		"Events received from the kernel, by outcome",
		[]string{"outcome"},
		nil,
	)

	framesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "frames_printed_total"),
		"Merged stack frames printed",
		nil,
		nil,
	)
)

// Describe satisfies prometheus.Collector.
func (h *Handler) Describe(ch chan<- *prometheus.Desc) {
	ch <- eventsDesc
	ch <- framesDesc
}

// Collect satisfies prometheus.Collector.
func (h *Handler) Collect(ch chan<- prometheus.Metric) {
	s := h.Stats()

	for outcome, v := range map[string]uint64{
		"printed":   s.Printed,
		"skipped":   s.Skipped,
		"malformed": s.Malformed,
	} {
		ch <- prometheus.MustNewConstMetric(eventsDesc, prometheus.CounterValue, float64(v), outcome)
	}

	ch <- prometheus.MustNewConstMetric(framesDesc, prometheus.CounterValue, float64(s.Frames))
}
