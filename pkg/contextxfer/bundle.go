package contextxfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alinavoice/alina/pkg/errorsx"
	"github.com/alinavoice/alina/pkg/llm"
	"github.com/alinavoice/alina/pkg/timeutil"
)

// Defaults used whenever the title/summary model call cannot be trusted.
const (
	DefaultTitle   = "Customer Support"
	DefaultSummary = "Customer contacted support for assistance."
)

// validTitles is the closed set the receiving dispatch UI understands.
var validTitles = []string{
	"Customer Support",
	"Return Trip Booking",
	"Reschedule Trip",
	"Cancel a Ride",
	"Book a Ride",
	"Complaint",
	"Lost and Found",
}

// Bundle is the wire shape the context endpoint accepts.
type Bundle struct {
	ContextCallTitle      string          `json:"ContextCallTitle"`
	ContextCallSummary    string          `json:"ContextCallSummary"`
	ContextCallDetailHtml string          `json:"ContextCallDetailHtml"`
	ContextCallDetailJson json.RawMessage `json:"ContextCallDetailJson"`
}

// Generator turns a transcript into a Bundle and ships it.
type Generator struct {
	adapter    llm.LLMAdapter
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewGenerator(adapter llm.LLMAdapter, endpoint string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		adapter:    adapter,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        timeutil.NowEastern,
	}
}

// Build assembles the full bundle from a tracker's transcript.
func (g *Generator) Build(ctx context.Context, t *Tracker) Bundle {
	messages := t.Messages()
	title, summary := g.titleAndSummary(ctx, messages)
	return Bundle{
		ContextCallTitle:      title,
		ContextCallSummary:    summary,
		ContextCallDetailHtml: detailHTML(messages),
		ContextCallDetailJson: detailJSON(t.CallSID(), messages, g.now()),
	}
}

// Send posts the bundle. Failures are the caller's to log and swallow:
// context transfer never blocks a live call.
func (g *Generator) Send(ctx context.Context, b Bundle) error {
	if g.endpoint == "" {
		g.logger.Info("context_transfer_skipped", "reason", "endpoint not configured")
		return nil
	}
	body, err := json.Marshal(b)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBackendRequest)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBackendRequest)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonBackendRequest)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return errorsx.New(errorsx.ReasonBackendStatus, "context transfer status %d: %s", resp.StatusCode, string(raw))
	}
	g.logger.Info("context_transfer_sent", "title", b.ContextCallTitle)
	return nil
}

type titleSummary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

func (g *Generator) titleAndSummary(ctx context.Context, messages []Message) (string, string) {
	if g.adapter == nil || len(messages) == 0 {
		return DefaultTitle, DefaultSummary
	}

	var convo strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&convo, "%s: %s\n", speakerLabel(m.Role), m.Content)
	}

	prompt := fmt.Sprintf(`Analyze this customer service conversation and provide both a title and summary.

Conversation:
%s

1. TITLE: Select the MOST APPROPRIATE title from this exact list:
%s

Consider:
- If customer wants to book a new trip: "Book a Ride"
- If customer wants to book a return trip: "Return Trip Booking"
- If customer wants to reschedule: "Reschedule Trip"
- If customer wants to cancel: "Cancel a Ride"
- If customer has a complaint: "Complaint"
- If customer lost something: "Lost and Found"
- If none of the above or general inquiry: "Customer Support"

2. SUMMARY: Create a brief 2-3 sentence summary focusing on key points, requests, and outcomes.

Respond in this exact JSON format:
{
"title": "[selected title from list]",
"summary": "[brief summary]"
}`, convo.String(), strings.Join(validTitles, ", "))

	resp, err := g.adapter.Generate(ctx, llm.Context{
		Messages: []map[string]any{{"role": "user", "content": prompt}},
	})
	if err != nil {
		g.logger.Warn("context_title_generation_failed", "error", err)
		return DefaultTitle, DefaultSummary
	}

	var ts titleSummary
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &ts); err != nil {
		g.logger.Warn("context_title_unparseable")
		return DefaultTitle, DefaultSummary
	}
	if ts.Summary == "" {
		ts.Summary = DefaultSummary
	}
	return normalizeTitle(ts.Title), ts.Summary
}

// normalizeTitle snaps a free-form title onto the closed set, falling
// back to a word-overlap match and then the default.
func normalizeTitle(title string) string {
	for _, v := range validTitles {
		if title == v {
			return v
		}
	}
	lower := strings.ToLower(title)
	for _, v := range validTitles {
		for _, word := range strings.Fields(strings.ToLower(v)) {
			if word == "a" {
				continue
			}
			if strings.Contains(lower, word) {
				return v
			}
		}
	}
	return DefaultTitle
}

func speakerLabel(role string) string {
	if role == RoleAgent {
		return "Agent"
	}
	return "Customer"
}

func detailHTML(messages []Message) string {
	if len(messages) == 0 {
		return "<div style='background:#f9f9f9; border:1px solid #ddd; border-radius:8px; padding:15px;'><p>No conversation details available.</p></div>"
	}
	var b strings.Builder
	b.WriteString("<div style='background:#f9f9f9; border:1px solid #ddd; border-radius:8px; padding:15px;'>")
	for _, m := range messages {
		color := "#1d8348"
		if m.Role == RoleAgent {
			color = "#2a5298"
		}
		fmt.Fprintf(&b,
			"<div style='margin-bottom:15px;'><strong style='color:%s;'>%s:</strong><p>%s</p></div>",
			color, speakerLabel(m.Role), html.EscapeString(m.Content))
	}
	b.WriteString("</div>")
	return b.String()
}

type jsonTranscript struct {
	CallMetadata struct {
		CallID        string   `json:"call_id"`
		GeneratedAt   string   `json:"generated_at"`
		TotalMessages int      `json:"total_messages"`
		Participants  []string `json:"participants"`
	} `json:"call_metadata"`
	Conversation []jsonTurn     `json:"conversation"`
	Statistics   jsonTurnTotals `json:"statistics"`
}

type jsonTurn struct {
	Sequence       int    `json:"sequence"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
	CharacterCount int    `json:"character_count"`
}

type jsonTurnTotals struct {
	AgentMessageCount       int `json:"agent_message_count"`
	CustomerMessageCount    int `json:"customer_message_count"`
	TotalAgentCharacters    int `json:"total_agent_characters"`
	TotalCustomerCharacters int `json:"total_customer_characters"`
	ConversationTurns       int `json:"conversation_turns"`
}

func detailJSON(callSID string, messages []Message, now time.Time) json.RawMessage {
	var doc jsonTranscript
	doc.CallMetadata.CallID = callSID
	doc.CallMetadata.GeneratedAt = now.Format(time.RFC3339)
	doc.CallMetadata.TotalMessages = len(messages)

	seen := map[string]bool{}
	for _, m := range messages {
		if !seen[m.Role] {
			seen[m.Role] = true
			doc.CallMetadata.Participants = append(doc.CallMetadata.Participants, m.Role)
		}
	}

	doc.Statistics.ConversationTurns = len(messages)
	for i, m := range messages {
		doc.Conversation = append(doc.Conversation, jsonTurn{
			Sequence:       i + 1,
			Role:           m.Role,
			Content:        m.Content,
			Timestamp:      m.Timestamp,
			CharacterCount: len(m.Content),
		})
		if m.Role == RoleAgent {
			doc.Statistics.AgentMessageCount++
			doc.Statistics.TotalAgentCharacters += len(m.Content)
		} else {
			doc.Statistics.CustomerMessageCount++
			doc.Statistics.TotalCustomerCharacters += len(m.Content)
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": "Failed to generate history", "call_id": callSID})
	}
	return raw
}
