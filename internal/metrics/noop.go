package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EventTriggered(eventType string)                         {}
func (n *NoopSink) EventProcessed(eventType string, duration time.Duration) {}
func (n *NoopSink) HandlerFailed(eventType string)                          {}
func (n *NoopSink) QueueDepth(depth int)                                    {}
func (n *NoopSink) JobFired(jobID string)                                   {}
func (n *NoopSink) JobsInstalled(count int)                                 {}
func (n *NoopSink) ProbeCompleted(status string, err error)                 {}
