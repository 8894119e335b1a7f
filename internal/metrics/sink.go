// Package metrics records runtime counters for the dispatch engine, the job store
// and the market-phase probe.
package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Dispatch engine metrics
	EventTriggered(eventType string)
	EventProcessed(eventType string, duration time.Duration)
	HandlerFailed(eventType string)
	QueueDepth(depth int)

	// Job store metrics
	JobFired(jobID string)
	JobsInstalled(count int)

	// Probe metrics
	ProbeCompleted(status string, err error)
}

// Probe outcome labels.
const (
	ProbeOK     = "ok"
	ProbeFailed = "failed"
)

// JobLabel collapses per-instance job ids ("keepalive:broker-a") to their family
// ("keepalive") so label cardinality stays bounded.
func JobLabel(jobID string) string {
	for i := 0; i < len(jobID); i++ {
		if jobID[i] == ':' {
			return jobID[:i]
		}
	}
	return jobID
}
