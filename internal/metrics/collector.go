package ldemetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/goldp/internal/lde"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "goldp"
	subsystem = "lde"
)

// Label names for LDE metrics.
const (
	labelType   = "type"
	labelOp     = "op"
	labelStatus = "status"
)

// -------------------------------------------------------------------------
// Collector: Prometheus LDE Metrics
// -------------------------------------------------------------------------

// Collector holds all label distribution engine metrics and implements
// lde.MetricsReporter.
//
// Gauges are refreshed by the event loop after every event; counters are
// bumped inline by the engine.
type Collector struct {
	// FECs is the number of nodes in the FEC database.
	FECs prometheus.Gauge

	// Neighbors is the number of neighbors with label state.
	Neighbors prometheus.Gauge

	// LabelsAllocated is the number of local labels bound to FECs.
	LabelsAllocated prometheus.Gauge

	// MessagesReceived counts processed LDP messages by type.
	MessagesReceived *prometheus.CounterVec

	// MessagesSent counts emitted LDP messages by type.
	MessagesSent *prometheus.CounterVec

	// FIBChanges counts kernel install and uninstall requests.
	FIBChanges *prometheus.CounterVec

	// GCReclaimed counts FEC nodes removed by the garbage collector.
	GCReclaimed prometheus.Counter

	// MP2MPUpstreamPasses counts full MP2MP upstream processing passes.
	// Merging works when it grows once per tree, not once per child.
	MP2MPUpstreamPasses prometheus.Counter

	// NotificationsSent counts notifications by status code.
	NotificationsSent *prometheus.CounterVec
}

var _ lde.MetricsReporter = (*Collector)(nil)

// NewCollector creates a Collector with all LDE metrics registered against
// the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics carry the "goldp_lde_" prefix (namespace_subsystem).
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.FECs,
		c.Neighbors,
		c.LabelsAllocated,
		c.MessagesReceived,
		c.MessagesSent,
		c.FIBChanges,
		c.GCReclaimed,
		c.MP2MPUpstreamPasses,
		c.NotificationsSent,
	)

	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}
	counterVec := func(name, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, []string{label})
	}

	return &Collector{
		FECs:             gauge("fecs", "Number of FECs in the label information base."),
		Neighbors:        gauge("neighbors", "Number of LDP neighbors with label state."),
		LabelsAllocated:  gauge("labels_allocated", "Number of local labels bound to FECs."),
		MessagesReceived: counterVec("messages_received_total", "Total LDP messages processed by type.", labelType),
		MessagesSent:     counterVec("messages_sent_total", "Total LDP messages sent by type.", labelType),
		FIBChanges:       counterVec("fib_changes_total", "Total label FIB changes requested from the kernel.", labelOp),
		GCReclaimed:      counter("gc_reclaimed_total", "Total FEC nodes removed by garbage collection."),
		MP2MPUpstreamPasses: counter("mp2mp_upstream_passes_total",
			"Total full MP2MP upstream processing passes (RFC 6388 make-before-break)."),
		NotificationsSent: counterVec("notifications_sent_total", "Total notifications sent by status.", labelStatus),
	}
}

// -------------------------------------------------------------------------
// Gauges
// -------------------------------------------------------------------------

// SetFECs sets the FEC database size.
func (c *Collector) SetFECs(n int) { c.FECs.Set(float64(n)) }

// SetNeighbors sets the neighbor count.
func (c *Collector) SetNeighbors(n int) { c.Neighbors.Set(float64(n)) }

// SetLabelsAllocated sets the number of allocated local labels.
func (c *Collector) SetLabelsAllocated(n int) { c.LabelsAllocated.Set(float64(n)) }

// -------------------------------------------------------------------------
// Message Counters
// -------------------------------------------------------------------------

// IncMessageReceived increments the received counter for the message type,
// e.g. "mapping" or "withdraw".
func (c *Collector) IncMessageReceived(msgType string) {
	c.MessagesReceived.WithLabelValues(msgType).Inc()
}

// IncMessageSent increments the sent counter for the message type.
func (c *Collector) IncMessageSent(msgType string) {
	c.MessagesSent.WithLabelValues(msgType).Inc()
}

// IncNotificationSent increments the notification counter for the status.
func (c *Collector) IncNotificationSent(status string) {
	c.NotificationsSent.WithLabelValues(status).Inc()
}

// -------------------------------------------------------------------------
// FIB, GC and MP2MP
// -------------------------------------------------------------------------

// IncFIBChange increments the FIB change counter for lde.FIBOpInstall or
// lde.FIBOpUninstall.
func (c *Collector) IncFIBChange(op string) {
	c.FIBChanges.WithLabelValues(op).Inc()
}

// AddGCReclaimed adds n reclaimed FEC nodes.
func (c *Collector) AddGCReclaimed(n int) {
	c.GCReclaimed.Add(float64(n))
}

// IncMP2MPUpstreamPass increments the full upstream pass counter.
func (c *Collector) IncMP2MPUpstreamPass() {
	c.MP2MPUpstreamPasses.Inc()
}
