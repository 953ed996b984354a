// Package contextxfer builds the handoff bundle a human agent sees
// when a call escalates or a booking carries context forward: a short
// LLM-generated title and summary plus HTML and JSON transcripts, and
// pushes it to the external context endpoint.
package contextxfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/alinavoice/alina/pkg/timeutil"
)

const (
	RoleAgent    = "agent"
	RoleCustomer = "customer"
)

// Message is one transcript line.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Tracker accumulates the transcript of one call.
type Tracker struct {
	callSID string

	mu       sync.Mutex
	start    time.Time
	messages []Message
	now      func() time.Time
}

func NewTracker(callSID string) *Tracker {
	t := &Tracker{callSID: callSID, now: timeutil.NowEastern}
	t.start = t.now()
	return t
}

func (t *Tracker) CallSID() string { return t.callSID }

// Add appends one line; role is RoleAgent or RoleCustomer.
func (t *Tracker) Add(role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: t.now().Format(time.RFC3339),
	})
}

// Messages returns a copy of the transcript.
func (t *Tracker) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Duration renders elapsed call time as "Xm Ys".
func (t *Tracker) Duration() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := t.now().Sub(t.start)
	return fmt.Sprintf("%dm %ds", int(elapsed.Seconds())/60, int(elapsed.Seconds())%60)
}
