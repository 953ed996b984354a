package metrics

import "time"

// Provider protection event names, shared by the LLM adapter wrapper
// and the STT/TTS processors.
const (
	EventRateLimit     = "provider_rate_limit"
	EventBreakerDenied = "breaker_denied"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
)

// MetricsEvent is one observation on the call path. Tags carry routing
// identity (stream_id, call_sid, trace_id, component); Fields carry the
// event payload such as latencies or audio parameters.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Observer receives events from processors and transports. RecordEvent
// runs on hot paths and must not block.
type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
