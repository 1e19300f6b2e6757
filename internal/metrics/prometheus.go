package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	logx "streakbot/pkg/logx"
)

// PrometheusSink implements Sink with client_golang collectors. Methods
// never block. Registration errors are logged and otherwise ignored.
type PrometheusSink struct {
	triggersActive  prometheus.Gauge
	triggersFired   *prometheus.CounterVec
	triggersSkipped *prometheus.CounterVec

	batches       *prometheus.CounterVec
	targets       *prometheus.CounterVec
	logins        *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	s := &PrometheusSink{
		triggersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streakbot_triggers_active",
			Help: "Number of registered daily triggers.",
		}),
		triggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streakbot_triggers_fired_total",
			Help: "Trigger fires by kind (scheduled, manual).",
		}, []string{"kind"}),
		triggersSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streakbot_triggers_skipped_total",
			Help: "Trigger fires that did not start a batch, by reason.",
		}, []string{"reason"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streakbot_batches_total",
			Help: "Finished batches by trigger kind and outcome.",
		}, []string{"trigger", "outcome"}),
		targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streakbot_targets_total",
			Help: "Target outcomes by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streakbot_batch_logins_total",
			Help: "How non-fatal batches obtained a session.",
		}, []string{"path"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streakbot_batch_duration_seconds",
			Help:    "Wall time of a batch.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}
	for name, c := range map[string]prometheus.Collector{
		"triggers_active":  s.triggersActive,
		"triggers_fired":   s.triggersFired,
		"triggers_skipped": s.triggersSkipped,
		"batches":          s.batches,
		"targets":          s.targets,
		"logins":           s.logins,
		"batch_duration":   s.batchDuration,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn("metrics: register failed", logx.String("metric", name), logx.Err(err))
		}
	}
	return s
}

func (s *PrometheusSink) TriggersActive(n int) { s.triggersActive.Set(float64(n)) }

func (s *PrometheusSink) TriggerFired(kind string) { s.triggersFired.WithLabelValues(kind).Inc() }

func (s *PrometheusSink) TriggerSkipped(reason string) {
	s.triggersSkipped.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) BatchCompleted(b Batch) {
	s.batches.WithLabelValues(b.Trigger, b.Outcome()).Inc()
	s.targets.WithLabelValues("sent").Add(float64(b.Success))
	s.targets.WithLabelValues("failed").Add(float64(b.Failure))
	if b.Duration > 0 {
		s.batchDuration.Observe(b.Duration.Seconds())
	}
	if b.Fatal {
		return
	}
	if b.SessionRestored {
		s.logins.WithLabelValues(LoginRestored).Inc()
	} else {
		s.logins.WithLabelValues(LoginFresh).Inc()
	}
}

var _ Sink = (*PrometheusSink)(nil)
