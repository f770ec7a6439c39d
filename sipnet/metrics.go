package sipnet

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the prometheus collectors a Channel reports into. A nil
// *Metrics is valid everywhere in this package — every call site guards with
// m.inc()/m.dec()/m.observe() style nil-receiver methods below, treating an
// unset metrics bundle as a safe no-op rather than forcing every
// construction site to pass one.
type Metrics struct {
	datagramsSent     *prometheus.CounterVec
	datagramsReceived *prometheus.CounterVec
	streamConnsOpen   *prometheus.GaugeVec
	prunerEvictions   *prometheus.CounterVec
	failedDestinations *prometheus.GaugeVec
	framingErrors     *prometheus.CounterVec
}

// NewMetrics builds and registers a Metrics bundle against reg. Pass
// prometheus.DefaultRegisterer to wire into the global registry, or a
// dedicated prometheus.NewRegistry() in tests to avoid collisions between
// parallel test binaries registering the same collector names twice.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		datagramsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipnet",
			Name:      "datagrams_sent_total",
			Help:      "UDP datagrams sent, by channel_id.",
		}, []string{"channel_id"}),
		datagramsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipnet",
			Name:      "datagrams_received_total",
			Help:      "UDP datagrams received, by channel_id.",
		}, []string{"channel_id"}),
		streamConnsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sipnet",
			Name:      "stream_connections_open",
			Help:      "Live pooled stream connections, by channel_id and direction.",
		}, []string{"channel_id", "direction"}),
		prunerEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipnet",
			Name:      "pruner_evictions_total",
			Help:      "Connections closed by the idle pruner, by channel_id.",
		}, []string{"channel_id"}),
		failedDestinations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sipnet",
			Name:      "udp_failed_destinations",
			Help:      "Entries currently held in a UDP channel's failed-destination set.",
		}, []string{"channel_id"}),
		framingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipnet",
			Name:      "stream_framing_errors_total",
			Help:      "Connections closed due to a stream framing failure, by channel_id.",
		}, []string{"channel_id"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.datagramsSent,
			m.datagramsReceived,
			m.streamConnsOpen,
			m.prunerEvictions,
			m.failedDestinations,
			m.framingErrors,
		)
	}
	return m
}

func (m *Metrics) incDatagramsSent(channelID string) {
	if m == nil {
		return
	}
	m.datagramsSent.WithLabelValues(channelID).Inc()
}

func (m *Metrics) incDatagramsReceived(channelID string) {
	if m == nil {
		return
	}
	m.datagramsReceived.WithLabelValues(channelID).Inc()
}

func (m *Metrics) setStreamConnsOpen(channelID string, direction Direction, n int) {
	if m == nil {
		return
	}
	m.streamConnsOpen.WithLabelValues(channelID, direction.String()).Set(float64(n))
}

func (m *Metrics) incPrunerEvictions(channelID string) {
	if m == nil {
		return
	}
	m.prunerEvictions.WithLabelValues(channelID).Inc()
}

func (m *Metrics) setFailedDestinations(channelID string, n int) {
	if m == nil {
		return
	}
	m.failedDestinations.WithLabelValues(channelID).Set(float64(n))
}

func (m *Metrics) incFramingErrors(channelID string) {
	if m == nil {
		return
	}
	m.framingErrors.WithLabelValues(channelID).Inc()
}
