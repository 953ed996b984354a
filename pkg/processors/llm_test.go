package processors

import (
	"testing"
	"time"

	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/llm"
	mockllm "github.com/alinavoice/alina/pkg/providers/mock"
	"github.com/alinavoice/alina/pkg/sttcheck"
)

func callerMeta() map[string]string {
	return map[string]string{
		frames.MetaStreamID: "stream-1",
		frames.MetaCallSID:  "call-1",
		frames.MetaSource:   "stt",
		frames.MetaIsFinal:  "true",
	}
}

func TestLLMEmitsToolCalls(t *testing.T) {
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{
		ToolCalls: []llm.ToolCall{{
			ID:        "tool-1",
			Name:      "get_fare_estimate",
			Arguments: map[string]any{"pickup": "12 Main St"},
		}},
	})
	tools := []llm.Tool{{Name: "get_fare_estimate", Description: "estimate the fare for a trip"}}
	proc := NewLLMProcessor(adapter, "", tools)

	input := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "How much to the clinic?", callerMeta())
	out, err := proc.Process(input)
	if err != nil {
		t.Fatalf("process error: %v", err)
	}
	var sawToolCall, sawThinkStart, sawThinkEnd bool
	for _, f := range out {
		switch f.Kind() {
		case frames.KindControl:
			cf := f.(frames.ControlFrame)
			if cf.Code() == frames.ControlToolCall {
				sawToolCall = true
				if cf.Meta()[frames.MetaToolName] != "get_fare_estimate" {
					t.Fatalf("unexpected tool name %q", cf.Meta()[frames.MetaToolName])
				}
				if cf.Meta()[frames.MetaToolCallID] != "tool-1" {
					t.Fatalf("unexpected tool call id %q", cf.Meta()[frames.MetaToolCallID])
				}
			}
		case frames.KindSystem:
			switch f.(frames.SystemFrame).Name() {
			case "thinking_start":
				sawThinkStart = true
			case "thinking_end":
				sawThinkEnd = true
			}
		}
	}
	if !sawToolCall {
		t.Fatalf("expected tool call frame")
	}
	if !sawThinkStart || !sawThinkEnd {
		t.Fatalf("expected thinking markers, got start=%v end=%v", sawThinkStart, sawThinkEnd)
	}
}

func TestLLMToolResultResumesConversation(t *testing.T) {
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{
		ResponseText: "Your ride costs twelve dollars.",
		ToolCalls: []llm.ToolCall{{
			ID:        "tool-1",
			Name:      "get_fare_estimate",
			Arguments: map[string]any{"pickup": "12 Main St"},
		}},
	})
	proc := NewLLMProcessor(adapter, "", []llm.Tool{{Name: "get_fare_estimate"}})

	input := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "How much?", callerMeta())
	if _, err := proc.Process(input); err != nil {
		t.Fatalf("process error: %v", err)
	}

	resultMeta := map[string]string{
		frames.MetaStreamID:   "stream-1",
		frames.MetaCallSID:    "call-1",
		frames.MetaToolCallID: "tool-1",
		frames.MetaToolName:   "get_fare_estimate",
		frames.MetaToolResult: `{"fare": 12.0}`,
		frames.MetaToolStatus: "ok",
	}
	result := frames.NewSystemFrame("stream-1", time.Now().UnixNano(), "tool_result", resultMeta)
	out, err := proc.Process(result)
	if err != nil {
		t.Fatalf("tool result error: %v", err)
	}
	var spoken string
	for _, f := range out {
		if f.Kind() != frames.KindText {
			continue
		}
		tf := f.(frames.TextFrame)
		if tf.Meta()[frames.MetaSource] == "llm" {
			spoken += tf.Text()
		}
	}
	if spoken != "Your ride costs twelve dollars." {
		t.Fatalf("expected spoken response after tool result, got %q", spoken)
	}
}

func TestLLMSayEmitsAssistantText(t *testing.T) {
	proc := NewLLMProcessor(mockllm.NewLLMAdapter(mockllm.LLMConfig{}), "", nil)

	var assistantText string
	proc.SetTurnHooks(nil, func(callSID, text string) {
		assistantText = text
	})

	meta := map[string]string{
		frames.MetaStreamID: "stream-1",
		frames.MetaCallSID:  "call-1",
		frames.MetaSayText:  "Please hold while I look that up.",
		frames.MetaTTSFlush: "true",
	}
	say := frames.NewSystemFrame("stream-1", time.Now().UnixNano(), "say", meta)
	out, err := proc.Process(say)
	if err != nil {
		t.Fatalf("say error: %v", err)
	}
	if len(out) != 1 || out[0].Kind() != frames.KindText {
		t.Fatalf("expected one text frame, got %d frames", len(out))
	}
	tf := out[0].(frames.TextFrame)
	if tf.Text() != "Please hold while I look that up." {
		t.Fatalf("unexpected text %q", tf.Text())
	}
	if tf.Meta()[frames.MetaSource] != "llm" {
		t.Fatalf("expected llm source, got %q", tf.Meta()[frames.MetaSource])
	}
	if tf.Meta()[frames.MetaTTSFlush] != "true" {
		t.Fatalf("expected flush to carry through")
	}
	if assistantText != "Please hold while I look that up." {
		t.Fatalf("assistant hook not fired, got %q", assistantText)
	}
}

func TestLLMSetInstructionsReplacesSystem(t *testing.T) {
	proc := NewLLMProcessor(mockllm.NewLLMAdapter(mockllm.LLMConfig{}), "first prompt", nil)

	meta := map[string]string{
		frames.MetaStreamID:      "stream-1",
		frames.MetaCallSID:       "call-1",
		frames.MetaSystemMessage: "second prompt",
	}
	swap := frames.NewSystemFrame("stream-1", time.Now().UnixNano(), "set_instructions", meta)
	if _, err := proc.Process(swap); err != nil {
		t.Fatalf("set_instructions error: %v", err)
	}

	scope := proc.scopeKey(meta, "stream-1")
	snap := proc.contextSnapshot(scope)
	systems := 0
	for _, msg := range snap.Messages {
		if role, _ := msg["role"].(string); role == "system" {
			systems++
			if content, _ := msg["content"].(string); content != "second prompt" {
				t.Fatalf("system prompt not replaced, got %q", content)
			}
		}
	}
	if systems != 1 {
		t.Fatalf("expected exactly one system message, got %d", systems)
	}
}

func TestLLMHooksFire(t *testing.T) {
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{
		ResponseText: "Sure, one moment.",
		Usage:        llm.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19},
	})
	proc := NewLLMProcessor(adapter, "", nil)

	var userText, hookCallSID string
	var usage llm.Usage
	proc.SetTurnHooks(func(callSID, text string) {
		hookCallSID = callSID
		userText = text
	}, nil)
	proc.SetUsageHook(func(callSID string, u llm.Usage) {
		usage = u
	})

	input := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "Book me a ride", callerMeta())
	if _, err := proc.Process(input); err != nil {
		t.Fatalf("process error: %v", err)
	}
	if userText != "Book me a ride" {
		t.Fatalf("user hook not fired, got %q", userText)
	}
	if hookCallSID != "call-1" {
		t.Fatalf("expected call-1, got %q", hookCallSID)
	}
	if usage.TotalTokens != 19 {
		t.Fatalf("usage hook not fired, got %+v", usage)
	}
}

func TestLLMSuspectTurnReachesSTTCheckHook(t *testing.T) {
	adapter := mockllm.NewLLMAdapter(mockllm.LLMConfig{
		ResponseText: "Sure, I can help you book a ride. Where should the trip start?",
	})
	proc := NewLLMProcessor(adapter, "", nil)
	proc.SetTranscriptGuard(true)

	var hookCallSID string
	var analysis sttcheck.Analysis
	proc.SetSTTCheckHook(func(callSID string, a sttcheck.Analysis) {
		hookCallSID = callSID
		analysis = a
	})

	// First turn seeds the assistant reply the heuristics compare against.
	first := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "I need transportation", callerMeta())
	if _, err := proc.Process(first); err != nil {
		t.Fatalf("process error: %v", err)
	}
	if hookCallSID != "" {
		t.Fatalf("hook fired for a clean turn")
	}

	meta := callerMeta()
	meta[frames.MetaConfidence] = "0.2"
	second := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "i want to book a date", meta)
	if _, err := proc.Process(second); err != nil {
		t.Fatalf("process error: %v", err)
	}
	if hookCallSID != "call-1" {
		t.Fatalf("expected hook for call-1, got %q", hookCallSID)
	}
	if !analysis.LikelySTTError {
		t.Fatalf("expected suspect turn, got %+v", analysis)
	}
	found := false
	for _, ind := range analysis.Indicators {
		if ind == sttcheck.IndicatorPhoneticConfusion {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected phonetic confusion indicator, got %v", analysis.Indicators)
	}
}
