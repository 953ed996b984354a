package sttcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneticConfusionDateForRide(t *testing.T) {
	a := Detect(
		"i want to book a date",
		"Sure, I can help you book a ride. Where should the trip start?",
		nil, -1)

	assert.Contains(t, a.Indicators, IndicatorPhoneticConfusion)
	require.NotEmpty(t, a.Corrections)
	assert.Equal(t, "date", a.Corrections[0].OriginalWord)
	assert.Equal(t, "ride", a.Corrections[0].SuggestedWord)
	assert.Equal(t, "i want to book a ride", a.Corrections[0].CorrectedSentence)

	assert.True(t, a.LikelySTTError)
	assert.Equal(t, ClarifyPhonetic, a.ClarificationType)
	assert.Contains(t, a.Clarification(), "'ride' or 'date'")
}

func TestCleanTranscriptionBelowThreshold(t *testing.T) {
	a := Detect(
		"i need to book a ride to the pharmacy",
		"Of course, I can book that trip. What is the pickup address?",
		nil, 0.95)

	assert.False(t, a.LikelySTTError)
	assert.False(t, a.ShouldClarify)
}

func TestLowSTTConfidenceWeighsHeaviest(t *testing.T) {
	a := Detect(
		"i need a ride now",
		"I can book that ride right away.",
		nil, 0.3)

	assert.Contains(t, a.Indicators, IndicatorLowConfidence)
	assert.GreaterOrEqual(t, a.Score, 0.4)
}

func TestMissingConfidenceAddsNothing(t *testing.T) {
	a := Detect(
		"i need a ride now",
		"I can book that ride right away.",
		nil, -1)

	assert.NotContains(t, a.Indicators, IndicatorLowConfidence)
}

func TestDomainMismatchFlagged(t *testing.T) {
	a := Detect(
		"i would like a pizza for dinner",
		"I can book a ride for you, what is the pickup address?",
		nil, -1)

	assert.Contains(t, a.Indicators, IndicatorDomainMismatch)
	assert.Contains(t, a.Indicators, IndicatorIntentMismatch)
	assert.True(t, a.LikelySTTError)
}

func TestContextIncoherenceNeedsHistory(t *testing.T) {
	history := []string{
		"I want to book a ride",
		"Sure, where is the pickup?",
		"8201 Snouffer School Road",
	}
	a := Detect(
		"seven purple elephants",
		"Great, and what is the dropoff address for the trip?",
		history, -1)

	assert.Contains(t, a.Indicators, IndicatorContextIncoherent)
}

func TestEmptyInputIsNoop(t *testing.T) {
	a := Detect("", "anything", nil, 0.2)
	assert.Zero(t, a.Score)
	assert.Empty(t, a.Indicators)
}

func TestCorrectionsCappedAtThree(t *testing.T) {
	a := Detect(
		"date look tip stop fair",
		"book a ride trip, we can drop you off and the fare is cheap",
		nil, -1)
	assert.LessOrEqual(t, len(a.Corrections), 3)
}
