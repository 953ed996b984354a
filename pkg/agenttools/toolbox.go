// Package agenttools is the fixed set of functions the conversation
// model may call. Every tool returns a narrative string the model can
// read back to the caller, and none of them let an error escape into
// the agent loop.
package agenttools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alinavoice/alina/pkg/backend"
	"github.com/alinavoice/alina/pkg/ledger"
	"github.com/alinavoice/alina/pkg/llm"
	"github.com/alinavoice/alina/pkg/payload"
	"github.com/alinavoice/alina/pkg/resilience"
	"github.com/alinavoice/alina/pkg/timeutil"
	"github.com/alinavoice/alina/pkg/websearch"
)

// Searcher is the slice of the web-search client the tools use.
type Searcher interface {
	Search(ctx context.Context, prompt string) (string, error)
	SearchSummarized(ctx context.Context, prompt string) (string, error)
	VerifyAddress(ctx context.Context, address string) (websearch.AddressCheck, error)
	Weather(ctx context.Context, address string) string
	GetAddress(ctx context.Context, prompt, country, city, state string) (string, error)
}

// Toolbox holds one call's tool state: the resolved affiliate, the
// selected rider, and the in-memory trip legs.
type Toolbox struct {
	backend *backend.Client
	web     Searcher
	matcher llm.LLMAdapter
	logger  *slog.Logger
	now     func() time.Time
	ldg     *ledger.CallLedger

	// PayloadLogDir receives final_payload_<call_id>.txt before booking.
	PayloadLogDir string

	// Hangup ends the telephony call; Say speaks a line to the caller;
	// KeypadMode switches DTMF handling for the call; HoldMusic toggles
	// the hold loop while a booking submits. All are wired by the
	// session and may be nil in tests.
	Hangup     func(ctx context.Context) error
	Say        func(text string)
	KeypadMode func(mode string)
	HoldMusic  func(on bool)

	mu              sync.Mutex
	callID          string
	riderPhone      string
	clientID        string
	affiliateID     int
	familyID        int
	riderHomeInfo   backend.RiderProfile
	mainLeg         *payload.TripPayload
	returnLeg       *payload.TripPayload
	mainEst         payload.Estimates
	returnEst       payload.Estimates
	bookedOnce      bool
	suggestedReturn string

	detailOnce   sync.Once
	bounds       backend.Bounds
	fundingList  []backend.FundingSource
	copayIDs     []int
	bookingRetry resilience.RetryPolicy
}

func New(bc *backend.Client, web Searcher, matcher llm.LLMAdapter, logger *slog.Logger) *Toolbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolbox{
		backend:       bc,
		web:           web,
		matcher:       matcher,
		logger:        logger,
		now:           timeutil.NowEastern,
		PayloadLogDir: "logs/trip_book_payload",
		bookingRetry:  resilience.NewExponentialPolicy(3, time.Second),
	}
}

// BindCall attaches per-call identity after enrichment resolved it.
func (t *Toolbox) BindCall(callID, riderPhone string, affiliateID, familyID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callID = callID
	t.riderPhone = riderPhone
	t.affiliateID = affiliateID
	t.familyID = familyID
}

// BindLedger routes the funding matcher's token usage into the call's
// cost ledger.
func (t *Toolbox) BindLedger(ldg *ledger.CallLedger) {
	t.ldg = ldg
}

// SetRiderHome primes the rider's home profile for payload defaults.
func (t *Toolbox) SetRiderHome(p backend.RiderProfile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.riderHomeInfo = p
}

// Booked reports whether any booking succeeded on this call.
func (t *Toolbox) Booked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bookedOnce
}

// SetClientID pins the rider chosen during enrichment or profile
// selection so the model cannot hallucinate a different one.
func (t *Toolbox) SetClientID(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if clientID != "" && clientID != "-1" && clientID != "0" {
		t.clientID = clientID
	}
}

func (t *Toolbox) ClientID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientID
}

// TransferAllowed reports whether the call may still be handed to a
// live line. Any successful booking closes transfers for the rest of
// the call; the session consults this before escalating or honoring a
// DTMF shortcut.
func (t *Toolbox) TransferAllowed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.bookedOnce
}

// HasPendingLegs reports whether any collected leg survives in memory.
func (t *Toolbox) HasPendingLegs() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mainLeg != nil || t.returnLeg != nil
}

// affiliateDetail lazily fetches and caches the bounds, funding source
// catalog, and copay ids for the bound affiliate.
func (t *Toolbox) affiliateDetail(ctx context.Context) (backend.Bounds, []backend.FundingSource, []int) {
	t.detailOnce.Do(func() {
		bounds, sources, copay, err := t.backend.AffiliateDetail(ctx, t.affiliateIDLocked())
		if err != nil {
			t.logger.Warn("affiliate_detail_failed", "error", err)
			return
		}
		t.mu.Lock()
		t.bounds, t.fundingList, t.copayIDs = bounds, sources, copay
		t.mu.Unlock()
	})
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bounds, t.fundingList, t.copayIDs
}

func (t *Toolbox) affiliateIDLocked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.affiliateID
}

func (t *Toolbox) familyIDLocked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.familyID
}

func jsonString(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
