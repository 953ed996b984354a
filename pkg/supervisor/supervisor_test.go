package supervisor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alinavoice/alina/pkg/ledger"
	"github.com/alinavoice/alina/pkg/llm"
)

type scriptedAdapter struct {
	responses []llm.Response
	calls     int
}

func (a *scriptedAdapter) Generate(_ context.Context, _ llm.Context) (llm.Response, error) {
	if a.calls >= len(a.responses) {
		return llm.Response{Text: `{"relevance": 0.90, "completeness": 0.90, "groundedness": 0.90}`}, nil
	}
	r := a.responses[a.calls]
	a.calls++
	return r, nil
}

func (a *scriptedAdapter) Stream(context.Context, llm.Context) (<-chan string, error) {
	return nil, nil
}
func (a *scriptedAdapter) MapTools([]llm.Tool) (any, error)          { return nil, nil }
func (a *scriptedAdapter) ToProviderFormat(llm.Context) (any, error) { return nil, nil }
func (a *scriptedAdapter) FromProviderFormat(any) (llm.Response, error) {
	return llm.Response{}, nil
}
func (a *scriptedAdapter) Name() string { return "scripted" }

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFirstGreetingSkipped(t *testing.T) {
	adapter := &scriptedAdapter{}
	sup := New(adapter, "gpt-4o-mini", nil, nil, discard())

	sup.OnTurn(context.Background(), "assistant", "Hello, this is Alina with your transportation provider.")

	assert.Equal(t, 0, adapter.calls)
	assert.Empty(t, sup.Scores())
}

func TestGoodScoreNoEscalation(t *testing.T) {
	adapter := &scriptedAdapter{responses: []llm.Response{
		{Text: `{"relevance": 0.85, "completeness": 0.80, "groundedness": 0.90}`},
	}}
	escalated := false
	sup := New(adapter, "gpt-4o-mini", nil, func(context.Context, string) { escalated = true }, discard())

	sup.OnTurn(context.Background(), "assistant", "Hello, how can I help you today?")
	sup.OnTurn(context.Background(), "user", "I need a ride to my dialysis appointment tomorrow.")
	sup.OnTurn(context.Background(), "assistant", "Of course. What time is your appointment?")

	require.Len(t, sup.Scores(), 1)
	assert.False(t, escalated)
	assert.False(t, sup.Escalated())
}

func TestFirstLowScoreEscalates(t *testing.T) {
	adapter := &scriptedAdapter{responses: []llm.Response{
		{Text: `{"relevance": 0.40, "completeness": 0.30, "groundedness": 0.50}`},
	}}
	var reason string
	sup := New(adapter, "gpt-4o-mini", nil, func(_ context.Context, r string) { reason = r }, discard())

	sup.OnTurn(context.Background(), "assistant", "Hello, how can I help you today?")
	sup.OnTurn(context.Background(), "user", "I asked about my pickup time three times already.")
	sup.OnTurn(context.Background(), "assistant", "I can help you book a trip.")

	assert.True(t, sup.Escalated())
	assert.Contains(t, reason, "below threshold")
}

func TestEscalationFiresOnce(t *testing.T) {
	adapter := &scriptedAdapter{responses: []llm.Response{
		{Text: `{"relevance": 0.10, "completeness": 0.10, "groundedness": 0.10}`},
		{Text: `{"relevance": 0.10, "completeness": 0.10, "groundedness": 0.10}`},
	}}
	count := 0
	sup := New(adapter, "gpt-4o-mini", nil, func(context.Context, string) { count++ }, discard())

	sup.OnTurn(context.Background(), "assistant", "greeting")
	sup.OnTurn(context.Background(), "user", "where is my ride")
	sup.OnTurn(context.Background(), "assistant", "let me check on that")
	sup.OnTurn(context.Background(), "user", "hello?")
	sup.OnTurn(context.Background(), "assistant", "one moment please")

	assert.Equal(t, 1, count)
}

func TestUnparseableScoreSkipped(t *testing.T) {
	adapter := &scriptedAdapter{responses: []llm.Response{
		{Text: "I think the bot did okay overall."},
	}}
	escalated := false
	sup := New(adapter, "gpt-4o-mini", nil, func(context.Context, string) { escalated = true }, discard())

	sup.OnTurn(context.Background(), "assistant", "greeting")
	sup.OnTurn(context.Background(), "user", "book me a ride")
	sup.OnTurn(context.Background(), "assistant", "Sure, where are you headed?")

	assert.Empty(t, sup.Scores())
	assert.False(t, escalated)
}

func TestAllZeroScoreSkipped(t *testing.T) {
	adapter := &scriptedAdapter{responses: []llm.Response{
		{Text: `{"relevance": 0, "completeness": 0, "groundedness": 0}`},
	}}
	escalated := false
	sup := New(adapter, "gpt-4o-mini", nil, func(context.Context, string) { escalated = true }, discard())

	sup.OnTurn(context.Background(), "assistant", "greeting")
	sup.OnTurn(context.Background(), "user", "book me a ride")
	sup.OnTurn(context.Background(), "assistant", "Sure, where are you headed?")

	assert.Empty(t, sup.Scores())
	assert.False(t, escalated)
}

func TestFencedJSONParsed(t *testing.T) {
	score, ok := parseScore("```json\n{\"relevance\": 0.75, \"completeness\": 0.60, \"groundedness\": 0.80}\n```")
	require.True(t, ok)
	assert.InDelta(t, 0.75, score.Relevance, 1e-9)
	assert.InDelta(t, 0.7166, score.Average(), 0.001)
}

func TestIdenticalResponseEscalates(t *testing.T) {
	adapter := &scriptedAdapter{responses: []llm.Response{
		{Text: `{"relevance": 0.90, "completeness": 0.90, "groundedness": 0.90}`},
	}}
	var reason string
	sup := New(adapter, "gpt-4o-mini", nil, func(_ context.Context, r string) { reason = r }, discard())

	sup.OnTurn(context.Background(), "assistant", "greeting")
	sup.OnTurn(context.Background(), "user", "what time is my pickup")
	sup.OnTurn(context.Background(), "assistant", "Your pickup is at 9 AM.")
	sup.OnTurn(context.Background(), "user", "what?")
	sup.OnTurn(context.Background(), "assistant", "Your pickup is at 9 AM.")

	assert.True(t, sup.Escalated())
	assert.Contains(t, reason, "repeating")
}

func TestSupervisorTokensLedgered(t *testing.T) {
	adapter := &scriptedAdapter{responses: []llm.Response{
		{
			Text:  `{"relevance": 0.90, "completeness": 0.90, "groundedness": 0.90}`,
			Usage: llm.Usage{PromptTokens: 400, CompletionTokens: 30, TotalTokens: 430},
		},
	}}
	ldg := ledger.NewRegistry().Ledger("CA123")
	sup := New(adapter, "gpt-4o-mini", ldg, nil, discard())

	sup.OnTurn(context.Background(), "assistant", "greeting")
	sup.OnTurn(context.Background(), "user", "I need a ride")
	sup.OnTurn(context.Background(), "assistant", "Happy to help with that.")

	snap := ldg.Settle()
	assert.Equal(t, int64(400), snap.Supervisor.InputTokens)
	assert.Equal(t, int64(30), snap.Supervisor.OutputTokens)
}
