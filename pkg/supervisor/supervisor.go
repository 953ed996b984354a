package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alinavoice/alina/pkg/ledger"
	"github.com/alinavoice/alina/pkg/llm"
)

// Score is one three-dimension judgement of an assistant turn.
type Score struct {
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Groundedness float64 `json:"groundedness"`
}

func (s Score) Average() float64 {
	return (s.Relevance + s.Completeness + s.Groundedness) / 3
}

// issueThreshold: an average below this counts as an issue, and the
// first issue escalates the call.
const issueThreshold = 0.7

// historyWindow is how many turns the scoring prompt sees.
const historyWindow = 6

// SayLine is spoken, non-interruptible, right before the transfer.
const SayLine = "I notice we might be going in circles. Let me transfer you to a live agent who can better assist you."

// EscalateFunc interrupts the agent, says SayLine, and issues the SIP
// transfer to the dispatcher. It runs at most once per call.
type EscalateFunc func(ctx context.Context, reason string)

type turn struct {
	role string
	text string
}

// Supervisor watches the transcript and scores every assistant turn
// after the first greeting with a smaller model. The first low average
// hands the call to a human.
type Supervisor struct {
	adapter  llm.LLMAdapter
	model    string
	ldg      *ledger.CallLedger
	escalate EscalateFunc
	logger   *slog.Logger

	mu            sync.Mutex
	history       []turn
	greetingSeen  bool
	escalated     bool
	scores        []Score
	lastAssistant string
}

func New(adapter llm.LLMAdapter, model string, ldg *ledger.CallLedger, escalate EscalateFunc, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		adapter:  adapter,
		model:    model,
		ldg:      ldg,
		escalate: escalate,
		logger:   logger,
	}
}

// Escalated reports whether this call was handed to a human.
func (s *Supervisor) Escalated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalated
}

// Scores returns the judgements collected so far, transcript order.
func (s *Supervisor) Scores() []Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Score, len(s.scores))
	copy(out, s.scores)
	return out
}

// OnTurn feeds one transcript turn to the supervisor. Assistant turns
// after the first greeting are scored synchronously; the orchestrator
// calls this from its own scoring goroutine.
func (s *Supervisor) OnTurn(ctx context.Context, role, text string) {
	s.mu.Lock()
	if s.escalated {
		s.mu.Unlock()
		return
	}
	if !s.greetingSeen && role == "assistant" {
		s.greetingSeen = true
		s.mu.Unlock()
		return
	}
	repeated := role == "assistant" && text != "" && text == s.lastAssistant
	if role == "assistant" {
		s.lastAssistant = text
	}
	s.history = append(s.history, turn{role: role, text: text})
	if len(s.history) > historyWindow {
		s.history = s.history[len(s.history)-historyWindow:]
	}
	shouldScore := role == "assistant" && len(s.history) >= 2
	s.mu.Unlock()

	if repeated {
		s.trip(ctx, "assistant repeating identical responses")
		return
	}
	if shouldScore {
		s.scoreLatest(ctx)
	}
}

func (s *Supervisor) scoreLatest(ctx context.Context) {
	prompt := s.buildPrompt()

	resp, err := s.adapter.Generate(ctx, llm.Context{
		Messages: []map[string]any{{"role": "system", "content": prompt}},
	})
	if err != nil {
		s.logger.Warn("supervisor_score_failed", "error", err)
		return
	}
	if s.ldg != nil {
		s.ldg.AddSupervisorTokens(s.model, int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
	}

	score, ok := parseScore(resp.Text)
	if !ok {
		// Parse failures are silently skipped; the agent takes no penalty.
		s.logger.Warn("supervisor_score_unparseable", "raw", truncate(resp.Text, 200))
		return
	}
	if score.Relevance == 0 && score.Completeness == 0 && score.Groundedness == 0 {
		s.logger.Warn("supervisor_score_all_zero")
		return
	}

	s.mu.Lock()
	s.scores = append(s.scores, score)
	s.mu.Unlock()

	avg := score.Average()
	s.logger.Info("supervisor_score",
		"relevance", score.Relevance,
		"completeness", score.Completeness,
		"groundedness", score.Groundedness,
		"average", avg)

	if avg < issueThreshold {
		s.trip(ctx, fmt.Sprintf("assistant response quality below threshold (average %.2f)", avg))
	}
}

func (s *Supervisor) trip(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.escalated {
		s.mu.Unlock()
		return
	}
	s.escalated = true
	s.mu.Unlock()

	s.logger.Info("supervisor_escalating", "reason", reason)
	if s.escalate != nil {
		s.escalate(ctx, reason)
	}
}

func (s *Supervisor) buildPrompt() string {
	s.mu.Lock()
	var b strings.Builder
	for i, t := range s.history {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, strings.ToUpper(t.role), t.text)
	}
	var lastUser, lastBot string
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].role == "assistant" && lastBot == "" {
			lastBot = s.history[i].text
		} else if s.history[i].role == "user" && lastUser == "" {
			lastUser = s.history[i].text
		}
	}
	s.mu.Unlock()

	return fmt.Sprintf(`You are a supervisor scoring a chatbot's response. Return ONLY valid JSON, no other text.

CONVERSATION HISTORY (last %d turns):
%s
CURRENT EXCHANGE:
User: %s
Bot: %s

SCORING (0.00 to 1.00, two decimals):
1. Relevance: Does bot address user's request or ask focused clarifying question?
2. Completeness: Does bot provide sufficient info or clear next steps?
3. Groundedness: Are statements factual/supported, not making unsupported claims?

SPECIAL CASES:
- If user asks off-topic questions (movies, food, etc.) and bot redirects to its domain, score relevance=0.80, completeness=0.70
- If bot gives identical response 2+ times in a row, lower all scores by 0.3

CRITICAL: You MUST return valid JSON. Default to mid-range scores (0.50) if uncertain.

Return ONLY this JSON (no markdown, no extra text):
{"relevance": 0.xx, "completeness": 0.xx, "groundedness": 0.xx}`,
		historyWindow, b.String(), lastUser, lastBot)
}

// parseScore extracts the strict three-field JSON, tolerating markdown
// fences around it.
func parseScore(raw string) (Score, bool) {
	cleaned := strings.TrimSpace(raw)
	if i := strings.Index(cleaned, "```json"); i >= 0 {
		cleaned = cleaned[i+len("```json"):]
		if j := strings.Index(cleaned, "```"); j >= 0 {
			cleaned = cleaned[:j]
		}
	} else if i := strings.Index(cleaned, "```"); i >= 0 {
		cleaned = cleaned[i+3:]
		if j := strings.Index(cleaned, "```"); j >= 0 {
			cleaned = cleaned[:j]
		}
	}
	var score Score
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &score); err != nil {
		return Score{}, false
	}
	if score.Relevance < 0 || score.Relevance > 1 ||
		score.Completeness < 0 || score.Completeness > 1 ||
		score.Groundedness < 0 || score.Groundedness > 1 {
		return Score{}, false
	}
	return score, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
