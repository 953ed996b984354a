package priority

import "testing"

func TestHighLaneDrainsFirst(t *testing.T) {
	q := New(4, 4, 3)
	if !q.TryPushLow("audio-1") {
		t.Fatalf("low push rejected")
	}
	if !q.TryPushLow("audio-2") {
		t.Fatalf("low push rejected")
	}
	if !q.TryPushHigh("cancel") {
		t.Fatalf("high push rejected")
	}

	f, ok := q.Pop()
	if !ok || f != "cancel" {
		t.Fatalf("expected high lane frame first, got %v", f)
	}
	f, _ = q.Pop()
	if f != "audio-1" {
		t.Fatalf("expected first low frame, got %v", f)
	}

	st := q.Stats()
	if st.HighPush != 1 || st.LowPush != 2 {
		t.Fatalf("push counters wrong: %+v", st)
	}
	if st.HighPop != 1 || st.LowPop != 1 {
		t.Fatalf("pop counters wrong: %+v", st)
	}
}

func TestPushRejectsWhenLaneFull(t *testing.T) {
	q := New(1, 1, 3)
	if !q.TryPushHigh("a") {
		t.Fatalf("first high push rejected")
	}
	if q.TryPushHigh("b") {
		t.Fatalf("expected full high lane to reject")
	}
	if !q.TryPushLow("c") {
		t.Fatalf("first low push rejected")
	}
	if q.TryPushLow("d") {
		t.Fatalf("expected full low lane to reject")
	}
}
