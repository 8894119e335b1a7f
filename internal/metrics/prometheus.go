package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink using Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Engine metrics
	eventsTriggered *prometheus.CounterVec
	eventsProcessed *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	handlerFailures *prometheus.CounterVec
	queueDepth      prometheus.Gauge

	// Job store metrics
	jobsFired     *prometheus.CounterVec
	jobsInstalled prometheus.Gauge

	// Probe metrics
	probesTotal *prometheus.CounterVec

	log zerolog.Logger
}

// NewPrometheusSink creates a new Prometheus metrics sink.
func NewPrometheusSink(reg prometheus.Registerer, log zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{
		log: log.With().Str("component", "metrics").Logger(),
	}
	s.initEngineMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initProbeMetrics(reg)
	return s
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.eventsTriggered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "algorunner_engine_events_triggered_total",
		Help: "Total number of events submitted to the dispatch queue.",
	}, []string{"event_type"})
	s.eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "algorunner_engine_events_processed_total",
		Help: "Total number of events taken off the queue and dispatched to handlers.",
	}, []string{"event_type"})
	s.eventDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "algorunner_engine_event_duration_seconds",
		Help:    "Time spent running every handler of one event.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
	}, []string{"event_type"})
	s.handlerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "algorunner_engine_handler_failures_total",
		Help: "Total number of handler invocations that returned an error or panicked.",
	}, []string{"event_type"})
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "algorunner_engine_queue_depth",
		Help: "Number of events waiting in the dispatch queue.",
	})

	s.register(reg, s.eventsTriggered, "algorunner_engine_events_triggered_total")
	s.register(reg, s.eventsProcessed, "algorunner_engine_events_processed_total")
	s.register(reg, s.eventDuration, "algorunner_engine_event_duration_seconds")
	s.register(reg, s.handlerFailures, "algorunner_engine_handler_failures_total")
	s.register(reg, s.queueDepth, "algorunner_engine_queue_depth")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.jobsFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "algorunner_scheduler_jobs_fired_total",
		Help: "Total number of timetable jobs fired by the job store.",
	}, []string{"job"})
	s.jobsInstalled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "algorunner_scheduler_jobs_installed",
		Help: "Number of entries installed by the last timetable build.",
	})

	s.register(reg, s.jobsFired, "algorunner_scheduler_jobs_fired_total")
	s.register(reg, s.jobsInstalled, "algorunner_scheduler_jobs_installed")
}

func (s *PrometheusSink) initProbeMetrics(reg prometheus.Registerer) {
	s.probesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "algorunner_probe_requests_total",
		Help: "Total number of quote feed probes by outcome and resulting phase.",
	}, []string{"outcome", "status"})

	s.register(reg, s.probesTotal, "algorunner_probe_requests_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
	}
}

func (s *PrometheusSink) EventTriggered(eventType string) {
	s.eventsTriggered.WithLabelValues(eventType).Inc()
}

func (s *PrometheusSink) EventProcessed(eventType string, duration time.Duration) {
	s.eventsProcessed.WithLabelValues(eventType).Inc()
	s.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (s *PrometheusSink) HandlerFailed(eventType string) {
	s.handlerFailures.WithLabelValues(eventType).Inc()
}

func (s *PrometheusSink) QueueDepth(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) JobFired(jobID string) {
	s.jobsFired.WithLabelValues(JobLabel(jobID)).Inc()
}

func (s *PrometheusSink) JobsInstalled(count int) {
	s.jobsInstalled.Set(float64(count))
}

func (s *PrometheusSink) ProbeCompleted(status string, err error) {
	outcome := ProbeOK
	if err != nil {
		outcome = ProbeFailed
	}
	s.probesTotal.WithLabelValues(outcome, status).Inc()
}
