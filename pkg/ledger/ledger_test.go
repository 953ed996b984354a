package ledger

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleComputesPerStreamCosts(t *testing.T) {
	reg := NewRegistry()
	l := reg.Ledger("call-1")
	l.AddAgentTokens("gpt-4.1-mini", 1_000_000, 1_000_000)
	l.AddSupervisorTokens("gpt-4o-mini", 2_000_000, 0)
	l.AddWebSearchTokens("gpt-4o", 0, 100_000)
	l.AddSTTSeconds("deepgram", "nova-2", 120)
	l.AddTTSCharacters("elevenlabs", "eleven_turbo_v2", 2_000_000)

	snap := l.Settle()
	assert.InDelta(t, 0.40+1.60, snap.Cost.Agent, 1e-9)
	assert.InDelta(t, 0.30, snap.Cost.Supervisor, 1e-9)
	assert.InDelta(t, 1.00, snap.Cost.WebSearch, 1e-9)
	assert.InDelta(t, 2*0.004, snap.Cost.STT, 1e-9)
	assert.InDelta(t, 30.0, snap.Cost.TTS, 1e-9)

	sum := snap.Cost.Agent + snap.Cost.Supervisor + snap.Cost.WebSearch + snap.Cost.STT + snap.Cost.TTS
	assert.True(t, math.Abs(snap.Cost.Total-sum) < 1e-9)
}

func TestUnknownModelFallsBackToCheapTier(t *testing.T) {
	p := PriceFor("some-future-model")
	assert.Equal(t, PriceFor("gpt-4o-mini"), p)
}

func TestRegistryReturnsSameLedgerPerCall(t *testing.T) {
	reg := NewRegistry()
	a := reg.Ledger("call-x")
	b := reg.Ledger("call-x")
	require.Same(t, a, b)

	reg.Release("call-x")
	assert.Equal(t, 0, reg.Len())
}

func TestConcurrentUpdatesAreSerialised(t *testing.T) {
	reg := NewRegistry()
	l := reg.Ledger("call-c")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AddAgentTokens("gpt-4.1-mini", 10, 5)
			l.AddSTTSeconds("deepgram", "nova-2", 0.5)
		}()
	}
	wg.Wait()
	snap := l.Settle()
	assert.Equal(t, int64(500), snap.Agent.InputTokens)
	assert.Equal(t, int64(250), snap.Agent.OutputTokens)
	assert.InDelta(t, 25.0, snap.STT.AudioSeconds, 1e-9)
}

func TestTotalTokensSumsAllStreams(t *testing.T) {
	reg := NewRegistry()
	l := reg.Ledger("call-t")
	l.AddAgentTokens("gpt-4.1-mini", 100, 50)
	l.AddSupervisorTokens("gpt-4o-mini", 20, 10)
	l.AddWebSearchTokens("gpt-4o-mini", 5, 5)
	assert.Equal(t, int64(190), l.Settle().TotalTokens())
}
