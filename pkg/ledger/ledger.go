package ledger

import (
	"sync"
)

// LLMStream accumulates token usage for one LLM consumer on a call.
type LLMStream struct {
	Model        string `json:"model" bson:"model"`
	InputTokens  int64  `json:"input_tokens" bson:"input_tokens"`
	OutputTokens int64  `json:"output_tokens" bson:"output_tokens"`
}

func (s LLMStream) Total() int64 { return s.InputTokens + s.OutputTokens }

// AudioStream accumulates STT seconds or TTS characters for a call.
type AudioStream struct {
	Provider     string  `json:"provider" bson:"provider"`
	Model        string  `json:"model" bson:"model"`
	AudioSeconds float64 `json:"audio_seconds,omitempty" bson:"audio_seconds,omitempty"`
	Characters   int64   `json:"characters,omitempty" bson:"characters,omitempty"`
}

// Cost holds the USD totals derived from a call's usage streams.
type Cost struct {
	Agent      float64 `json:"agent_cost" bson:"agent_cost"`
	Supervisor float64 `json:"supervisor_cost" bson:"supervisor_cost"`
	WebSearch  float64 `json:"websearch_cost" bson:"websearch_cost"`
	STT        float64 `json:"stt_cost" bson:"stt_cost"`
	TTS        float64 `json:"tts_cost" bson:"tts_cost"`
	Total      float64 `json:"total_cost" bson:"total_cost"`
}

// CallLedger tracks usage for a single call. All mutation goes through
// methods that take the per-call lock; reads return copies.
type CallLedger struct {
	mu sync.Mutex

	callID     string
	agent      LLMStream
	supervisor LLMStream
	webSearch  LLMStream
	stt        AudioStream
	tts        AudioStream
}

func newCallLedger(callID string) *CallLedger {
	return &CallLedger{callID: callID}
}

func (l *CallLedger) CallID() string { return l.callID }

func (l *CallLedger) AddAgentTokens(model string, input, output int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if model != "" {
		l.agent.Model = model
	}
	l.agent.InputTokens += input
	l.agent.OutputTokens += output
}

func (l *CallLedger) AddSupervisorTokens(model string, input, output int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if model != "" {
		l.supervisor.Model = model
	}
	l.supervisor.InputTokens += input
	l.supervisor.OutputTokens += output
}

func (l *CallLedger) AddWebSearchTokens(model string, input, output int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if model != "" {
		l.webSearch.Model = model
	}
	l.webSearch.InputTokens += input
	l.webSearch.OutputTokens += output
}

func (l *CallLedger) AddSTTSeconds(provider, model string, seconds float64) {
	if seconds <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if provider != "" {
		l.stt.Provider = provider
	}
	if model != "" {
		l.stt.Model = model
	}
	l.stt.AudioSeconds += seconds
}

func (l *CallLedger) AddTTSCharacters(provider, model string, chars int64) {
	if chars <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if provider != "" {
		l.tts.Provider = provider
	}
	if model != "" {
		l.tts.Model = model
	}
	l.tts.Characters += chars
}

// Snapshot is a point-in-time copy of the streams plus derived cost.
type Snapshot struct {
	CallID     string      `json:"call_id"`
	Agent      LLMStream   `json:"agent"`
	Supervisor LLMStream   `json:"supervisor"`
	WebSearch  LLMStream   `json:"websearch"`
	STT        AudioStream `json:"stt"`
	TTS        AudioStream `json:"tts"`
	Cost       Cost        `json:"cost"`
}

// TotalTokens sums tokens across the three LLM streams.
func (s Snapshot) TotalTokens() int64 {
	return s.Agent.Total() + s.Supervisor.Total() + s.WebSearch.Total()
}

// Settle computes the derived cost from the current streams. It is called
// once per call, at teardown.
func (l *CallLedger) Settle() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := Cost{
		Agent:      llmCost(l.agent.Model, l.agent.InputTokens, l.agent.OutputTokens),
		Supervisor: llmCost(l.supervisor.Model, l.supervisor.InputTokens, l.supervisor.OutputTokens),
		WebSearch:  llmCost(l.webSearch.Model, l.webSearch.InputTokens, l.webSearch.OutputTokens),
		STT:        sttCost(l.stt.AudioSeconds),
		TTS:        ttsCost(l.tts.Characters),
	}
	c.Total = c.Agent + c.Supervisor + c.WebSearch + c.STT + c.TTS
	return Snapshot{
		CallID:     l.callID,
		Agent:      l.agent,
		Supervisor: l.supervisor,
		WebSearch:  l.webSearch,
		STT:        l.stt,
		TTS:        l.tts,
		Cost:       c,
	}
}

// Registry maps call ids to their ledgers.
type Registry struct {
	mu      sync.Mutex
	ledgers map[string]*CallLedger
}

func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[string]*CallLedger)}
}

// Ledger returns the ledger for callID, creating it on first use.
func (r *Registry) Ledger(callID string) *CallLedger {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.ledgers[callID]
	if l == nil {
		l = newCallLedger(callID)
		r.ledgers[callID] = l
	}
	return l
}

// Release drops the ledger for callID after teardown has settled it.
func (r *Registry) Release(callID string) {
	r.mu.Lock()
	delete(r.ledgers, callID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ledgers)
}
