package dtmf

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/alinavoice/alina/pkg/phone"
)

// Mode selects how keypad digits are interpreted.
type Mode int

const (
	// ModePhoneCollect buffers digits into a phone number; # submits,
	// * clears.
	ModePhoneCollect Mode = iota
	// ModeTransferShortcut maps single digits to SIP extensions.
	ModeTransferShortcut
)

// Extensions reachable from transfer-shortcut mode.
const (
	ExtDispatcher = "5000"
	ExtDriver     = "5001"
)

// Action is what the session should do with a processed digit.
type Action int

const (
	ActionNone Action = iota
	ActionSubmit
	ActionCleared
	ActionTransfer
)

// Result describes the outcome of one digit.
type Result struct {
	Action    Action
	Number    string // formatted number on ActionSubmit
	Extension string // target extension on ActionTransfer
	Message   string // spoken feedback, empty when nothing to say
}

// Handler consumes keypad events for one call. Safe for use from the
// media event callback and the agent loop concurrently.
type Handler struct {
	mu     sync.Mutex
	mode   Mode
	buf    strings.Builder
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger}
}

func (h *Handler) SetMode(m Mode) {
	h.mu.Lock()
	h.mode = m
	h.buf.Reset()
	h.mu.Unlock()
}

func (h *Handler) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// Buffer returns the digits collected so far.
func (h *Handler) Buffer() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

// Normalize maps provider-specific digit encodings onto keypad symbols.
func Normalize(digit string) string {
	switch strings.ToLower(strings.TrimSpace(digit)) {
	case "11", "pound":
		return "#"
	case "10", "star":
		return "*"
	default:
		return strings.TrimSpace(digit)
	}
}

// Press processes one keypad event and returns what to do next.
func (h *Handler) Press(digit string) Result {
	d := Normalize(digit)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.mode == ModeTransferShortcut {
		switch d {
		case "0":
			h.logger.Info("dtmf_transfer_shortcut", "extension", ExtDispatcher)
			return Result{Action: ActionTransfer, Extension: ExtDispatcher}
		case "1":
			h.logger.Info("dtmf_transfer_shortcut", "extension", ExtDriver)
			return Result{Action: ActionTransfer, Extension: ExtDriver}
		default:
			return Result{}
		}
	}

	switch d {
	case "#":
		collected := h.buf.String()
		if len(collected) < 10 {
			return Result{Message: "Please enter at least ten digits before pressing pound."}
		}
		h.buf.Reset()
		formatted := phone.Confirm(collected)
		h.logger.Info("dtmf_number_submitted", "number", phone.LastTen(collected))
		return Result{Action: ActionSubmit, Number: formatted, Message: "You entered " + formatted + "."}
	case "*":
		h.buf.Reset()
		h.logger.Info("dtmf_buffer_cleared")
		return Result{Action: ActionCleared, Message: "Cleared. Please enter the number again."}
	default:
		if len(d) == 1 && d[0] >= '0' && d[0] <= '9' {
			h.buf.WriteString(d)
		}
		return Result{}
	}
}
