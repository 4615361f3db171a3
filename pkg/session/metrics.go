package session

import (
	"github.com/go-go-golems/zhenchat/pkg/conversation"
	"github.com/go-go-golems/zhenchat/pkg/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the store does. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sendsStarted  prometheus.Counter
	sendsRejected *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	frames        *prometheus.CounterVec
	historyLoads  *prometheus.CounterVec
}

// NewMetrics creates the store counters and registers them on reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: none
		sendsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zhenchat",
			Subsystem: "session",
			Name:      "sends_started_total",
			Help:      "Total sends that appended a user message and opened a stream",
		}),
		// Labels: reason (empty_text, missing_credential, unknown_conversation, already_streaming)
		sendsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zhenchat",
			Subsystem: "session",
			Name:      "sends_rejected_total",
			Help:      "Total sends refused before any state change",
		}, []string{"reason"}),
		// Labels: outcome (success, failure, cancelled)
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zhenchat",
			Subsystem: "session",
			Name:      "outcomes_total",
			Help:      "Total finalized answers by outcome",
		}, []string{"outcome"}),
		// Labels: kind (thinking, content-delta, unrecognized)
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zhenchat",
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Total data frames classified by kind",
		}, []string{"kind"}),
		// Labels: result (applied, skipped, error)
		historyLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zhenchat",
			Subsystem: "session",
			Name:      "history_loads_total",
			Help:      "Total history loads by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) sendStarted() {
	if m == nil {
		return
	}
	m.sendsStarted.Inc()
}

func (m *Metrics) sendRejected(reason string) {
	if m == nil {
		return
	}
	m.sendsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) finalized(outcome conversation.Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) frame(kind stream.EventKind) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) historyLoad(result string) {
	if m == nil {
		return
	}
	m.historyLoads.WithLabelValues(result).Inc()
}
