// Package session owns one call from the moment a participant joins
// until the persisted record lands: greeting, enrichment, prompt
// selection, the running conversational loop with its supervisor, DTMF
// and transfer handling, and deterministic teardown.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alinavoice/alina/pkg/agenttools"
	"github.com/alinavoice/alina/pkg/backend"
	"github.com/alinavoice/alina/pkg/cache"
	"github.com/alinavoice/alina/pkg/contextxfer"
	"github.com/alinavoice/alina/pkg/dtmf"
	"github.com/alinavoice/alina/pkg/ledger"
	"github.com/alinavoice/alina/pkg/store"
	"github.com/alinavoice/alina/pkg/sttcheck"
	"github.com/alinavoice/alina/pkg/supervisor"
	"github.com/alinavoice/alina/pkg/timeutil"
)

// State is the call lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateGreeting
	StateEnriching
	StateRunning
	StateTeardown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateGreeting:
		return "greeting"
	case StateEnriching:
		return "enriching"
	case StateRunning:
		return "running"
	case StateTeardown:
		return "teardown"
	}
	return "unknown"
}

// Channel is how the caller reached us.
const (
	ChannelIVR  = "ivr"
	ChannelChat = "chat"
)

// Transfer status of the call.
const (
	TransferEnabled   = "enabled"
	TransferDisabled  = "disabled"
	TransferEscalated = "escalated"
)

// Voice is the outbound surface of the media room: speech, microphone
// gating, the typing and hold-music background loops, prompt swaps,
// and user-text injection for DTMF-collected numbers.
type Voice interface {
	Say(text string, interruptible bool)
	SetMicEnabled(enabled bool)
	StartTyping()
	StopTyping()
	StartHoldMusic()
	StopHoldMusic()
	SetInstructions(prompt string)
	InjectUserText(text string)
	Hangup(ctx context.Context) error
}

// SIPTransfer moves the live call to a human extension.
type SIPTransfer interface {
	Transfer(ctx context.Context, callSID, extension string) error
}

// Recorder persists the teardown record.
type Recorder interface {
	SaveCallRecord(ctx context.Context, rec store.CallRecord) error
}

// Config is the per-call identity and the knobs the engine resolved
// from configuration.
type Config struct {
	CallID          string
	XCallID         string
	CallerNumber    string
	RecipientNumber string
	Channel         string

	PromptDir          string
	PromptArtifactDir  string
	DefaultAffiliateID int
	DefaultFamilyID    int
	RecordingBaseURL   string
	UserID             primitive.ObjectID
}

// Deps are the collaborators one session drives. Transfer, Store and
// Context may be nil when the corresponding service is disabled.
type Deps struct {
	Backend    *backend.Client
	Affiliates *cache.Cache[backend.Affiliate]
	Riders     *cache.Cache[[]backend.RiderProfile]
	Web        agenttools.Searcher
	Toolbox    *agenttools.Toolbox
	Supervisor *supervisor.Supervisor
	DTMF       *dtmf.Handler
	Transfer   SIPTransfer
	Ledger     *ledger.CallLedger
	Tracker    *contextxfer.Tracker
	Context    *contextxfer.Generator
	Store      Recorder
	Voice      Voice
	Logger     *slog.Logger
	CloseLog   func(callID string)
	Now        func() time.Time
}

type scoreJob struct {
	idx  int
	role string
	text string
}

// Session is the per-call orchestrator.
type Session struct {
	cfg  Config
	deps Deps

	state atomic.Int32

	mu             sync.Mutex
	transcript     []store.HistoryEntry
	transferStatus string
	selectedRider  *backend.RiderProfile
	startedAt      time.Time
	endedAt        time.Time
	contextSent    bool

	scoreQueue chan scoreJob
	scoreDone  chan struct{}
	teardown   sync.Once
}

func New(cfg Config, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = timeutil.NowEastern
	}
	if cfg.Channel == "" {
		cfg.Channel = ChannelIVR
	}
	s := &Session{
		cfg:            cfg,
		deps:           deps,
		transferStatus: TransferEnabled,
		scoreQueue:     make(chan scoreJob, 64),
		scoreDone:      make(chan struct{}),
	}
	go s.scoreLoop()
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	s.deps.Logger.Info("session_state",
		"call_id", s.cfg.CallID, "from", prev.String(), "to", next.String())
}

// TransferStatus returns enabled, disabled or escalated.
func (s *Session) TransferStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferStatus
}

// SelectedRider returns the pinned rider profile, nil before
// disambiguation.
func (s *Session) SelectedRider() *backend.RiderProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedRider
}

// Start drives the call from Connecting to Running. The microphone
// stays off from the first greeting until the personalised follow-up
// is queued, so the agent never reacts to audio while the prompt is
// unresolved.
func (s *Session) Start(ctx context.Context) {
	s.setState(StateConnecting)
	s.mu.Lock()
	s.startedAt = s.deps.Now()
	s.mu.Unlock()
	s.deps.Logger.Info("call_started",
		"call_id", s.cfg.CallID,
		"caller", s.cfg.CallerNumber,
		"recipient", s.cfg.RecipientNumber,
		"channel", s.cfg.Channel)

	s.setState(StateGreeting)
	s.deps.Voice.SetMicEnabled(false)
	aff := s.resolveAffiliate(ctx)
	greeting := greetingLine(aff.Name)
	s.deps.Voice.Say(greeting, false)
	idx := s.recordTurn("assistant", greeting, true)
	s.enqueueScore(scoreJob{idx: idx, role: "assistant", text: greeting})

	s.setState(StateEnriching)
	enr := s.enrich(ctx, aff)

	prompt := s.composePrompt(enr)
	s.writePromptArtifact(prompt)
	s.deps.Voice.SetInstructions(prompt)
	s.deps.Voice.StopTyping()

	s.setState(StateRunning)
	followUp := s.followUp(enr)
	s.deps.Voice.Say(followUp, false)
	fidx := s.recordTurn("assistant", followUp, true)
	s.enqueueScore(scoreJob{idx: fidx, role: "assistant", text: followUp})
	s.deps.Voice.SetMicEnabled(true)
}

// greetingLine opens with the recognised agency's name. Affiliate
// recognition runs before the first utterance so the caller hears
// which agency picked up.
func greetingLine(agency string) string {
	const tail = "My name is Alina, your digital agent. Please give me a moment while I look up your information."
	if agency == "" {
		return tail
	}
	return "Thank you for contacting " + agency + " agency. " + tail
}

// OnUserTurn records one transcribed caller utterance.
func (s *Session) OnUserTurn(text string) {
	if text == "" {
		return
	}
	s.recordTurn("user", text, false)
	if s.deps.Tracker != nil {
		s.deps.Tracker.Add(contextxfer.RoleCustomer, text)
	}
	s.enqueueScore(scoreJob{idx: -1, role: "user", text: text})
}

// AnnotateSTT attaches the transcription plausibility analysis to the
// most recent caller turn, where it rides into the persisted record
// alongside the supervisor scores.
func (s *Session) AnnotateSTT(a sttcheck.Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Speaker == "Customer" {
			cp := a
			s.transcript[i].STTCheck = &cp
			return
		}
	}
}

// OnAssistantTurn records one agent utterance and queues it for
// supervisor scoring. Both roles ride the same single worker so the
// supervisor sees turns, and emits scores, in transcript order.
func (s *Session) OnAssistantTurn(text string) {
	if text == "" {
		return
	}
	idx := s.recordTurn("assistant", text, false)
	s.enqueueScore(scoreJob{idx: idx, role: "assistant", text: text})
}

func (s *Session) enqueueScore(job scoreJob) {
	if s.deps.Supervisor == nil {
		return
	}
	select {
	case s.scoreQueue <- job:
	default:
		s.deps.Logger.Warn("supervisor_queue_full", "call_id", s.cfg.CallID)
	}
}

func (s *Session) recordTurn(role, text string, skipContext bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	speaker := "Customer"
	if role == "assistant" {
		speaker = "Agent"
	}
	s.transcript = append(s.transcript, store.HistoryEntry{
		Speaker:       speaker,
		Transcription: text,
		Timestamp:     timeutil.FormatTimestamp(s.deps.Now()),
	})
	if role == "assistant" && !skipContext && s.deps.Tracker != nil {
		s.deps.Tracker.Add(contextxfer.RoleAgent, text)
	}
	return len(s.transcript) - 1
}

func (s *Session) scoreLoop() {
	for {
		select {
		case <-s.scoreDone:
			return
		case job := <-s.scoreQueue:
			s.scoreOne(job)
		}
	}
}

func (s *Session) scoreOne(job scoreJob) {
	before := len(s.deps.Supervisor.Scores())
	s.deps.Supervisor.OnTurn(context.Background(), job.role, job.text)
	if job.role != "assistant" {
		return
	}
	scores := s.deps.Supervisor.Scores()
	if len(scores) <= before {
		return
	}
	avg := scores[len(scores)-1].Average()
	s.mu.Lock()
	if job.idx >= 0 && job.idx < len(s.transcript) {
		s.transcript[job.idx].Score = &avg
	}
	s.mu.Unlock()
}

// Escalate hands the call to the dispatcher. Called by the supervisor
// on the first low score; idempotent, later calls are no-ops. A call
// that already booked stays with the agent.
func (s *Session) Escalate(ctx context.Context, reason string) {
	if s.deps.Toolbox != nil && !s.deps.Toolbox.TransferAllowed() {
		s.mu.Lock()
		s.transferStatus = TransferDisabled
		s.mu.Unlock()
		s.deps.Logger.Info("escalation_blocked_after_booking", "call_id", s.cfg.CallID, "reason", reason)
		return
	}
	s.mu.Lock()
	if s.transferStatus == TransferEscalated {
		s.mu.Unlock()
		return
	}
	s.transferStatus = TransferEscalated
	s.mu.Unlock()

	s.deps.Logger.Warn("call_escalated", "call_id", s.cfg.CallID, "reason", reason)
	s.deps.Voice.Say(supervisor.SayLine, false)
	s.recordTurn("assistant", supervisor.SayLine, true)

	// Dispatcher receives the conversation bundle before the caller
	// lands on their line.
	s.sendContext(ctx)

	if s.deps.Transfer != nil {
		if err := s.deps.Transfer.Transfer(ctx, s.cfg.CallID, dtmf.ExtDispatcher); err != nil {
			s.deps.Logger.Error("escalation_transfer_failed", "call_id", s.cfg.CallID, "error", err)
		}
	}
}

// SetKeypadMode switches the DTMF handler between phone collection
// and the transfer shortcuts. Driven by the set_keypad_mode tool when
// the prompt offers the caller a key press.
func (s *Session) SetKeypadMode(mode string) {
	if s.deps.DTMF == nil {
		return
	}
	switch mode {
	case "transfer_shortcut":
		s.deps.DTMF.SetMode(dtmf.ModeTransferShortcut)
	default:
		s.deps.DTMF.SetMode(dtmf.ModePhoneCollect)
	}
	s.deps.Logger.Info("keypad_mode_set", "call_id", s.cfg.CallID, "mode", mode)
}

// OnDTMF processes one keypad digit in the handler's current mode.
func (s *Session) OnDTMF(ctx context.Context, digit string) {
	if s.deps.DTMF == nil {
		return
	}
	res := s.deps.DTMF.Press(dtmf.Normalize(digit))
	switch res.Action {
	case dtmf.ActionSubmit:
		s.deps.Voice.InjectUserText("My phone number is " + res.Number + ".")
	case dtmf.ActionTransfer:
		s.transferTo(ctx, res.Extension)
	}
	if res.Message != "" {
		s.deps.Voice.Say(res.Message, true)
	}
}

func (s *Session) transferTo(ctx context.Context, extension string) {
	s.mu.Lock()
	blocked := s.transferStatus != TransferEnabled
	s.mu.Unlock()
	if blocked {
		s.deps.Logger.Info("transfer_blocked", "call_id", s.cfg.CallID, "extension", extension)
		return
	}
	if s.deps.Toolbox != nil && !s.deps.Toolbox.TransferAllowed() {
		s.deps.Logger.Info("transfer_blocked_after_booking", "call_id", s.cfg.CallID)
		return
	}
	if s.deps.Transfer == nil {
		return
	}
	if err := s.deps.Transfer.Transfer(ctx, s.cfg.CallID, extension); err != nil {
		s.deps.Logger.Error("dtmf_transfer_failed", "call_id", s.cfg.CallID, "error", err)
		return
	}
	s.mu.Lock()
	s.transferStatus = TransferDisabled
	s.mu.Unlock()
}

func (s *Session) sendContext(ctx context.Context) {
	s.mu.Lock()
	if s.contextSent || s.deps.Context == nil || s.deps.Tracker == nil {
		s.mu.Unlock()
		return
	}
	s.contextSent = true
	s.mu.Unlock()

	bundle := s.deps.Context.Build(ctx, s.deps.Tracker)
	if err := s.deps.Context.Send(ctx, bundle); err != nil {
		s.deps.Logger.Warn("context_transfer_failed", "call_id", s.cfg.CallID, "error", err)
	}
}
