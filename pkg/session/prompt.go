package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alinavoice/alina/pkg/phone"
	"github.com/alinavoice/alina/pkg/timeutil"
)

// flowName maps the rider classification and channel onto one of the
// six prompt templates.
func flowName(class riderClass, channel string) string {
	var base string
	switch class {
	case riderKnown:
		base = "single_rider"
	case riderMulti:
		base = "multiple_riders"
	case riderNew:
		base = "new_rider"
	default:
		base = "unknown_rider"
	}
	return "prompt_" + base + "_" + channel
}

// loadTemplate reads the flow's template file, falling back to a
// built-in generic template when prompt authoring has not provided one.
func (s *Session) loadTemplate(flow string) string {
	if s.cfg.PromptDir != "" {
		path := filepath.Join(s.cfg.PromptDir, flow+".txt")
		if body, err := os.ReadFile(path); err == nil {
			return string(body)
		}
		s.deps.Logger.Warn("prompt_template_missing", "call_id", s.cfg.CallID, "flow", flow)
	}
	return defaultTemplate
}

const defaultTemplate = `You are Alina, a reservation agent for a non-emergency medical transportation agency.
Help the caller book rides, check trip ETAs, review ride history, or reach a dispatcher.
Always validate addresses with get_valid_addresses before quoting fares or collecting a trip.
Confirm every trip detail back to the caller before calling book_trips.
Keep answers short and speakable. Never read internal identifiers aloud.`

// composePrompt renders the final system prompt: flow template plus
// the enrichment block the agent needs to personalise the call.
func (s *Session) composePrompt(enr enrichment) string {
	flow := flowName(enr.class(), s.cfg.Channel)
	var b strings.Builder
	b.WriteString(s.loadTemplate(flow))
	b.WriteString("\n\n## Call context\n")
	fmt.Fprintf(&b, "Current date and time (Eastern): %s\n", timeutil.FormatMinute(s.deps.Now()))
	fmt.Fprintf(&b, "Caller phone number: %s\n", phone.Display(s.cfg.CallerNumber))
	fmt.Fprintf(&b, "Agency: %s (affiliate %d, family %d)\n",
		enr.affiliate.Name, enr.affiliate.AffiliateID, enr.affiliate.FamilyID)
	if enr.counties != "" {
		fmt.Fprintf(&b, "Service area counties: %s\n", enr.counties)
	}
	if riders, err := json.Marshal(enr.riders); err == nil {
		fmt.Fprintf(&b, "Rider profiles for this number: %s\n", riders)
	}
	if len(enr.frequent) > 0 {
		fmt.Fprintf(&b, "Frequent addresses from ride history: %s\n", strings.Join(enr.frequent, "; "))
	}
	return b.String()
}

// writePromptArtifact persists the composed prompt for offline review.
func (s *Session) writePromptArtifact(prompt string) {
	dir := s.cfg.PromptArtifactDir
	if dir == "" {
		dir = filepath.Join("logs", "prompt")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.deps.Logger.Warn("prompt_artifact_failed", "call_id", s.cfg.CallID, "error", err)
		return
	}
	path := filepath.Join(dir, "final_prompt_"+s.cfg.CallID+".txt")
	if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
		s.deps.Logger.Warn("prompt_artifact_failed", "call_id", s.cfg.CallID, "error", err)
	}
}

// followUp is the first personalised line after enrichment, chosen by
// rider classification.
func (s *Session) followUp(enr enrichment) string {
	switch enr.class() {
	case riderKnown:
		if first := firstName(enr.riders[0].Name); first != "" {
			return "Am I speaking with " + first + "?"
		}
		return "How can I help you today?"
	case riderMulti:
		return "I see that I have multiple profiles for your number. Can I confirm your name please?"
	default:
		return "Can I have your name please?"
	}
}

func firstName(full string) string {
	fields := strings.Fields(strings.TrimSpace(full))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
