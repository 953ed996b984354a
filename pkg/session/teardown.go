package session

import (
	"context"
	"time"

	"github.com/alinavoice/alina/pkg/phone"
	"github.com/alinavoice/alina/pkg/store"
)

// teardownTimeout bounds the persistence and context-transfer work so
// a dead downstream never wedges call cleanup.
const teardownTimeout = 15 * time.Second

// End tears the call down: stop the background loops, settle the cost
// ledger, persist the record, and release per-call log handles.
// Idempotent; every disconnection path may call it.
func (s *Session) End(reason string) {
	s.teardown.Do(func() {
		s.setState(StateTeardown)
		close(s.scoreDone)
		s.deps.Voice.StopTyping()
		s.deps.Voice.StopHoldMusic()

		s.mu.Lock()
		s.endedAt = s.deps.Now()
		start, end := s.startedAt, s.endedAt
		history := make([]store.HistoryEntry, len(s.transcript))
		copy(history, s.transcript)
		escalated := s.transferStatus == TransferEscalated
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		booked := s.deps.Toolbox != nil && s.deps.Toolbox.Booked()
		if escalated || booked {
			s.sendContext(ctx)
		}

		if s.deps.Ledger != nil {
			snap := s.deps.Ledger.Settle()
			s.deps.Logger.Info("call_cost_settled",
				"call_id", s.cfg.CallID,
				"total_tokens", snap.TotalTokens(),
				"total_cost", snap.Cost.Total)
			if s.deps.Store != nil {
				caller := phone.National(s.cfg.CallerNumber)
				rec := store.BuildRecord(snap, s.cfg.UserID,
					s.cfg.CallID, s.cfg.CallerNumber, s.cfg.CallID, s.cfg.XCallID,
					store.RecordingURL(s.cfg.RecordingBaseURL, caller, s.cfg.XCallID),
					start, end, history)
				if err := s.deps.Store.SaveCallRecord(ctx, rec); err != nil {
					s.deps.Logger.Error("call_record_persist_failed",
						"call_id", s.cfg.CallID, "error", err)
				}
			}
		}

		s.deps.Logger.Info("call_ended",
			"call_id", s.cfg.CallID,
			"reason", reason,
			"duration_seconds", end.Sub(start).Seconds(),
			"turns", len(history),
			"escalated", escalated)

		if s.deps.CloseLog != nil {
			s.deps.CloseLog(s.cfg.CallID)
		}
	})
}
