package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alinavoice/alina/pkg/backend"
	"github.com/alinavoice/alina/pkg/cache"
	"github.com/alinavoice/alina/pkg/phone"
)

// enrichment is everything resolved while the caller hears the typing
// sound. Every field degrades independently to a sentinel; enrichment
// never fails the call.
type enrichment struct {
	affiliate backend.Affiliate
	riders    []backend.RiderProfile
	counties  string
	frequent  []string
}

// riderClass drives prompt flow selection and the follow-up line.
type riderClass int

const (
	riderKnown riderClass = iota
	riderMulti
	riderNew
	riderUnknown
)

func (e enrichment) class() riderClass {
	switch {
	case len(e.riders) > 1:
		return riderMulti
	case len(e.riders) == 1 && e.riders[0].Sentinel == backend.RiderNew:
		return riderNew
	case len(e.riders) == 1 && e.riders[0].Sentinel == backend.RiderUnknown:
		return riderUnknown
	case len(e.riders) == 1:
		return riderKnown
	}
	return riderUnknown
}

// withTyping brackets one blocking sub-step with the typing loop. The
// sound stops even when the step degrades, so a failing lookup never
// leaves the caller listening to keystrokes.
func (s *Session) withTyping(step string, fn func()) {
	s.deps.Voice.StartTyping()
	defer s.deps.Voice.StopTyping()
	fn()
	s.deps.Logger.Debug("enrichment_step_done", "call_id", s.cfg.CallID, "step", step)
}

// enrich resolves everything beyond the affiliate, which the greeting
// already needed.
func (s *Session) enrich(ctx context.Context, aff backend.Affiliate) enrichment {
	enr := enrichment{affiliate: aff}

	s.withTyping("riders", func() {
		enr.riders = s.resolveRiders(ctx, enr.affiliate)
	})
	s.withTyping("counties", func() {
		enr.counties = s.resolveCounties(ctx, enr.affiliate)
	})
	if enr.class() == riderKnown {
		s.withTyping("frequent_addresses", func() {
			enr.frequent = s.resolveFrequent(ctx, enr.riders[0].ClientID)
		})
	}

	s.bindCall(enr)
	return enr
}

func (s *Session) resolveAffiliate(ctx context.Context) backend.Affiliate {
	recipient := s.cfg.RecipientNumber
	if recipient != "" && s.deps.Affiliates != nil {
		if aff, ok := s.deps.Affiliates.Get(recipient); ok {
			return aff
		}
	}
	if recipient != "" {
		aff, ok, err := s.deps.Backend.AffiliateByNumber(ctx, recipient)
		if err != nil {
			s.deps.Logger.Warn("affiliate_lookup_failed", "call_id", s.cfg.CallID, "error", err)
		} else if ok {
			if s.deps.Affiliates != nil {
				s.deps.Affiliates.Set(recipient, aff)
			}
			return aff
		}
	}
	return s.defaultAffiliate(ctx)
}

// defaultAffiliate resolves the configured fallback ids, caching under
// the synthetic ids: key so repeat calls skip the directory fetch.
func (s *Session) defaultAffiliate(ctx context.Context) backend.Affiliate {
	familyID, affiliateID := s.cfg.DefaultFamilyID, s.cfg.DefaultAffiliateID
	if familyID == 0 {
		familyID = 1
	}
	if affiliateID == 0 {
		affiliateID = 1
	}
	key := cache.IDKey(familyID, affiliateID)
	if s.deps.Affiliates != nil {
		if aff, ok := s.deps.Affiliates.Get(key); ok {
			return aff
		}
	}
	aff, ok, err := s.deps.Backend.AffiliateByIDs(ctx, familyID, affiliateID)
	if err != nil || !ok {
		s.deps.Logger.Warn("default_affiliate_unresolved",
			"call_id", s.cfg.CallID, "affiliate_id", affiliateID, "error", err)
		return backend.Affiliate{AffiliateID: affiliateID, FamilyID: familyID}
	}
	if s.deps.Affiliates != nil {
		s.deps.Affiliates.Set(key, aff)
	}
	return aff
}

func (s *Session) resolveRiders(ctx context.Context, aff backend.Affiliate) []backend.RiderProfile {
	caller := s.cfg.CallerNumber
	if phone.Digits(caller) == "" {
		// Widget session opened without a phone number.
		return []backend.RiderProfile{backend.UnknownRiderSentinel()}
	}
	key := fmt.Sprintf("%s|%d|%d", caller, aff.AffiliateID, aff.FamilyID)
	if s.deps.Riders != nil {
		if riders, ok := s.deps.Riders.Get(key); ok {
			return riders
		}
	}
	riders, err := s.deps.Backend.SearchClientsByPhone(ctx, caller, aff.AffiliateID, aff.FamilyID)
	if err != nil {
		s.deps.Logger.Warn("rider_lookup_failed", "call_id", s.cfg.CallID, "error", err)
		return []backend.RiderProfile{backend.NewRiderSentinel()}
	}
	if len(riders) == 0 {
		riders = []backend.RiderProfile{backend.NewRiderSentinel()}
	}
	for i := range riders {
		riders[i].ExistingTrips = s.countActiveTrips(ctx, riders[i].ClientID, aff.AffiliateID)
	}
	if s.deps.Riders != nil {
		s.deps.Riders.Set(key, riders)
	}
	return riders
}

// countActiveTrips primes each profile with its upcoming trip count.
// The prompt surfaces it so the agent can say "I see you have two
// trips scheduled" without a tool round-trip.
func (s *Session) countActiveTrips(ctx context.Context, clientID, affiliateID int) int {
	if clientID <= 0 {
		return 0
	}
	rides, err := s.deps.Backend.ExistingRides(ctx, clientID, affiliateID)
	if err != nil {
		s.deps.Logger.Warn("active_trip_count_failed", "call_id", s.cfg.CallID, "error", err)
		return 0
	}
	return len(rides)
}

func (s *Session) resolveCounties(ctx context.Context, aff backend.Affiliate) string {
	if s.deps.Web == nil || aff.Name == "" {
		return ""
	}
	counties, err := s.deps.Web.SearchSummarized(ctx,
		"List the counties served by the "+aff.Name+" paratransit agency. Answer with county names only.")
	if err != nil {
		s.deps.Logger.Warn("county_lookup_failed", "call_id", s.cfg.CallID, "error", err)
		return ""
	}
	return counties
}

func (s *Session) resolveFrequent(ctx context.Context, clientID int) []string {
	if s.deps.Toolbox == nil || clientID <= 0 {
		return nil
	}
	addresses, err := s.deps.Toolbox.FrequentAddresses(ctx, clientID)
	if err != nil {
		s.deps.Logger.Warn("frequent_addresses_failed", "call_id", s.cfg.CallID, "error", err)
		return nil
	}
	return addresses
}

// bindCall hands the resolved identity to the toolbox and pins the
// rider when the phone maps to exactly one real profile.
func (s *Session) bindCall(enr enrichment) {
	if s.deps.Toolbox == nil {
		return
	}
	s.deps.Toolbox.BindCall(s.cfg.CallID, s.cfg.CallerNumber,
		enr.affiliate.AffiliateID, enr.affiliate.FamilyID)
	if s.deps.Ledger != nil {
		s.deps.Toolbox.BindLedger(s.deps.Ledger)
	}
	s.deps.Toolbox.Say = func(text string) { s.deps.Voice.Say(text, false) }
	s.deps.Toolbox.Hangup = s.deps.Voice.Hangup
	s.deps.Toolbox.KeypadMode = s.SetKeypadMode
	s.deps.Toolbox.HoldMusic = func(on bool) {
		if on {
			s.deps.Voice.StartHoldMusic()
			return
		}
		s.deps.Voice.StopHoldMusic()
	}
	if enr.class() == riderKnown {
		rider := enr.riders[0]
		s.deps.Toolbox.SetClientID(strconv.Itoa(rider.ClientID))
		s.deps.Toolbox.SetRiderHome(rider)
		s.mu.Lock()
		s.selectedRider = &rider
		s.mu.Unlock()
	}
}
