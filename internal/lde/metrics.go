package lde

// MetricsReporter receives engine counters and gauges. The Prometheus
// collector in internal/metrics implements it.
type MetricsReporter interface {
	SetFECs(n int)
	SetNeighbors(n int)
	SetLabelsAllocated(n int)
	IncMessageReceived(msgType string)
	IncMessageSent(msgType string)
	IncFIBChange(op string)
	AddGCReclaimed(n int)
	IncMP2MPUpstreamPass()
	IncNotificationSent(status string)
}

// FIB change operations reported through IncFIBChange.
const (
	FIBOpInstall   = "install"
	FIBOpUninstall = "uninstall"
)

type noopMetrics struct{}

func (noopMetrics) SetFECs(int)                {}
func (noopMetrics) SetNeighbors(int)           {}
func (noopMetrics) SetLabelsAllocated(int)     {}
func (noopMetrics) IncMessageReceived(string)  {}
func (noopMetrics) IncMessageSent(string)      {}
func (noopMetrics) IncFIBChange(string)        {}
func (noopMetrics) AddGCReclaimed(int)         {}
func (noopMetrics) IncMP2MPUpstreamPass()      {}
func (noopMetrics) IncNotificationSent(string) {}
