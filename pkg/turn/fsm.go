package turn

import (
	"sync"
	"time"
)

// StateChange describes one turn transition, with the reason recorded
// for timeline artifacts.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// validNext maps each turn state to the states it may move into.
// Idle never jumps straight to Speaking; the agent only speaks after
// the caller has been heard.
var validNext = map[State][]State{
	StateIdle:      {StateListening},
	StateListening: {StateThinking, StateIdle},
	StateThinking:  {StateSpeaking, StateListening, StateIdle},
	StateSpeaking:  {StateListening, StateIdle},
}

// stateMachine tracks whose turn it is on the call: the caller's,
// the agent's, or neither.
type stateMachine struct {
	currentState State
	mu           sync.RWMutex

	bargeInThreshold time.Duration

	speakingStartTime  time.Time
	listeningStartTime time.Time

	stateChangeListeners []StateListener

	emitter InterruptEmitter
}

func newStateMachine(bargeInThreshold time.Duration, emitter InterruptEmitter) *stateMachine {
	if bargeInThreshold <= 0 {
		bargeInThreshold = 500 * time.Millisecond
	}
	return &stateMachine{
		currentState:     StateIdle,
		bargeInThreshold: bargeInThreshold,
		emitter:          emitter,
	}
}

// State returns the current state.
func (tm *stateMachine) State() State {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.currentState
}

func transitionValid(from, to State) bool {
	for _, allowed := range validNext[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state, rejecting moves validNext does not
// allow. Listeners run without the lock held.
func (tm *stateMachine) Transition(state State, reason string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if !transitionValid(tm.currentState, state) {
		return &InvalidTransitionError{
			From: tm.currentState,
			To:   state,
		}
	}

	oldState := tm.currentState
	tm.currentState = state

	switch state {
	case StateListening:
		tm.listeningStartTime = time.Now()
	case StateSpeaking:
		tm.speakingStartTime = time.Now()
	}

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}

	listeners := make([]StateListener, len(tm.stateChangeListeners))
	copy(listeners, tm.stateChangeListeners)
	tm.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}

	tm.mu.Lock()
	return nil
}

// AddListener registers a listener for state change events.
func (tm *stateMachine) AddListener(listener StateListener) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stateChangeListeners = append(tm.stateChangeListeners, listener)
}

// InvalidTransitionError reports a turn move validNext does not allow.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// OnAudioComplete marks the agent done speaking and hands the turn
// back to the caller.
func (tm *stateMachine) OnAudioComplete() {
	tm.mu.RLock()
	currentState := tm.currentState
	tm.mu.RUnlock()

	if currentState == StateSpeaking {
		_ = tm.Transition(StateListening, "audio playback complete")
	}
}

// OnSTTInput watches caller speech while the agent is talking. Speech
// sustained past bargeInThreshold counts as a barge-in: an interrupt
// frame is emitted so queued audio is discarded, and the turn returns
// to Listening.
func (tm *stateMachine) OnSTTInput(duration time.Duration) {
	tm.mu.RLock()
	currentState := tm.currentState
	threshold := tm.bargeInThreshold
	emitter := tm.emitter
	tm.mu.RUnlock()

	if currentState == StateSpeaking {
		if duration > threshold {
			if emitter != nil {
				interruptFrame := NewInterruptFrame("", time.Now().UnixNano())
				_ = emitter.Emit(interruptFrame)
			}
			_ = tm.Transition(StateListening, "barge-in detected")
		}
	}
}
