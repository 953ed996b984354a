package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/llm"
)

type stubRegistry struct {
	mu      sync.Mutex
	calls   []map[string]any
	result  string
	err     error
	delay   time.Duration
	failFor int
}

func (s *stubRegistry) Tools() []llm.Tool { return nil }

func (s *stubRegistry) HandleTool(name string, args map[string]any) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, args)
	if s.failFor > 0 {
		s.failFor--
		return "", errors.New("transient")
	}
	return s.result, s.err
}

func (s *stubRegistry) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubRegistry) lastArgs() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	return s.calls[len(s.calls)-1]
}

func toolCallFrame(callID, name, args string) frames.ControlFrame {
	meta := map[string]string{
		frames.MetaStreamID:   "stream-1",
		frames.MetaCallSID:    "call-1",
		frames.MetaToolCallID: callID,
		frames.MetaToolName:   name,
		frames.MetaToolArgs:   args,
	}
	return frames.NewControlFrame("stream-1", time.Now().UnixNano(), frames.ControlToolCall, meta)
}

func awaitResult(t *testing.T, in chan frames.Frame) frames.SystemFrame {
	t.Helper()
	select {
	case f := <-in:
		sf, ok := f.(frames.SystemFrame)
		if !ok || sf.Name() != "tool_result" {
			t.Fatalf("expected tool_result, got %T %v", f, f)
		}
		return sf
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for tool result")
		return frames.SystemFrame{}
	}
}

func TestDispatcherExecutesAndFeedsBack(t *testing.T) {
	reg := &stubRegistry{result: `{"fare": 12.0}`}
	in := make(chan frames.Frame, 4)
	d := NewToolDispatcher(reg, in, ToolDispatcherOptions{Retries: 0})

	if _, err := d.Process(toolCallFrame("tool-1", "get_fare_estimate", `{"pickup":"12 Main St"}`)); err != nil {
		t.Fatalf("process: %v", err)
	}
	sf := awaitResult(t, in)
	meta := sf.Meta()
	if meta[frames.MetaToolStatus] != "ok" {
		t.Fatalf("expected ok status, got %q", meta[frames.MetaToolStatus])
	}
	if meta[frames.MetaToolResult] != `{"fare": 12.0}` {
		t.Fatalf("unexpected result %q", meta[frames.MetaToolResult])
	}
	if meta[frames.MetaCallSID] != "call-1" {
		t.Fatalf("expected call sid carried through")
	}

	args := reg.lastArgs()
	if args["pickup"] != "12 Main St" {
		t.Fatalf("arguments not decoded: %v", args)
	}
	if args[frames.MetaIdempotency] != "stream-1:tool-1" {
		t.Fatalf("expected idempotency key, got %v", args[frames.MetaIdempotency])
	}
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	reg := &stubRegistry{result: "booked", failFor: 1}
	in := make(chan frames.Frame, 4)
	d := NewToolDispatcher(reg, in, ToolDispatcherOptions{Retries: 2, RetryBackoff: time.Millisecond})

	if _, err := d.Process(toolCallFrame("tool-1", "book_trip", `{}`)); err != nil {
		t.Fatalf("process: %v", err)
	}
	sf := awaitResult(t, in)
	if sf.Meta()[frames.MetaToolStatus] != "ok" {
		t.Fatalf("expected retry to succeed, got %q", sf.Meta()[frames.MetaToolStatus])
	}
	if reg.callCount() != 2 {
		t.Fatalf("expected two attempts, got %d", reg.callCount())
	}
}

func TestDispatcherReportsTimeout(t *testing.T) {
	reg := &stubRegistry{result: "late", delay: 200 * time.Millisecond}
	in := make(chan frames.Frame, 4)
	d := NewToolDispatcher(reg, in, ToolDispatcherOptions{Timeout: 20 * time.Millisecond, RetryBackoff: time.Millisecond})

	if _, err := d.Process(toolCallFrame("tool-1", "book_trip", `{}`)); err != nil {
		t.Fatalf("process: %v", err)
	}
	sf := awaitResult(t, in)
	if sf.Meta()[frames.MetaToolStatus] != "timeout" {
		t.Fatalf("expected timeout status, got %q", sf.Meta()[frames.MetaToolStatus])
	}
	if sf.Meta()[frames.MetaToolError] == "" {
		t.Fatalf("expected error detail")
	}
}

func TestDispatcherPassesThroughOtherFrames(t *testing.T) {
	reg := &stubRegistry{result: "ok"}
	in := make(chan frames.Frame, 1)
	d := NewToolDispatcher(reg, in, ToolDispatcherOptions{})

	tf := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "hello", nil)
	out, err := d.Process(tf)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out) != 1 || out[0].Kind() != frames.KindText {
		t.Fatalf("expected passthrough, got %v", out)
	}
	if reg.callCount() != 0 {
		t.Fatalf("text frames must not trigger tools")
	}
}
