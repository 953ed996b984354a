package llm

import (
	"context"
	"testing"
	"time"

	"github.com/alinavoice/alina/pkg/metrics"
	"github.com/alinavoice/alina/pkg/resilience"
)

type rateLimitedAdapter struct {
	calls int
}

func (a *rateLimitedAdapter) Name() string { return "limited" }

func (a *rateLimitedAdapter) Generate(ctx context.Context, input Context) (Response, error) {
	a.calls++
	return Response{}, resilience.RateLimitError{Provider: "limited", Message: "429"}
}

func (a *rateLimitedAdapter) Stream(ctx context.Context, input Context) (<-chan string, error) {
	a.calls++
	return nil, resilience.RateLimitError{Provider: "limited", Message: "429"}
}

func (a *rateLimitedAdapter) MapTools(tools []Tool) (any, error)        { return nil, nil }
func (a *rateLimitedAdapter) ToProviderFormat(ctx Context) (any, error) { return nil, nil }
func (a *rateLimitedAdapter) FromProviderFormat(raw any) (Response, error) {
	return Response{}, nil
}

func TestBreakerDeniesAfterRepeatedRateLimits(t *testing.T) {
	inner := &rateLimitedAdapter{}
	adapter := NewCircuitBreakerAdapter(inner, resilience.NewCircuitBreaker(2, time.Minute))
	obs := metrics.NewMemoryObserver()
	adapter.SetObserver(obs)

	for i := 0; i < 2; i++ {
		if _, err := adapter.Generate(context.Background(), Context{}); !resilience.IsRateLimit(err) {
			t.Fatalf("attempt %d: expected rate limit error, got %v", i, err)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 provider calls before open, got %d", inner.calls)
	}

	// Breaker is open now; the provider must not be reached.
	if _, err := adapter.Generate(context.Background(), Context{}); !resilience.IsRateLimit(err) {
		t.Fatalf("expected degraded error while open, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("open breaker still reached the provider: %d calls", inner.calls)
	}

	if got := len(obs.Named(metrics.EventRateLimit)); got != 2 {
		t.Fatalf("expected 2 rate limit events, got %d", got)
	}
	if got := len(obs.Named(metrics.EventBreakerDenied)); got != 1 {
		t.Fatalf("expected 1 denied event, got %d", got)
	}
	if got := len(obs.Named(metrics.EventBreakerOpen)); got != 1 {
		t.Fatalf("expected 1 open event, got %d", got)
	}
	ev := obs.Named(metrics.EventBreakerDenied)[0]
	if ev.Tags["provider"] != "limited" || ev.Tags["component"] != "llm" {
		t.Fatalf("denied event tags wrong: %v", ev.Tags)
	}
}
