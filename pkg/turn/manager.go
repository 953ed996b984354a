package turn

import "time"

// State is whose turn it is on the call.
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Strategy decides whether a caller may talk over the agent.
// Reservation prompts use AggressiveStrategy; confirmation readbacks
// are protected separately by the turn processor.
type Strategy interface {
	Name() string
	BargeInEnabled() bool
}

// Manager receives speech boundary events from the pipeline and keeps
// the turn state consistent across caller and agent.
type Manager interface {
	OnUserSpeechStart()
	OnUserSpeechEnd()
	OnAgentThinkStart()
	OnAgentThinkEnd()
	OnAgentSpeechStart()
	OnAgentSpeechEnd()
	OnAudioComplete()
	OnSTTInput(duration time.Duration)
	AddListener(listener StateListener)
	State() State
}
