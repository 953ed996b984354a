package sttcheck

import (
	"sort"
	"strings"
)

// Indicator names one signal that the transcription may be wrong.
type Indicator string

const (
	IndicatorIntentMismatch    Indicator = "intent_mismatch"
	IndicatorContextIncoherent Indicator = "context_incoherence"
	IndicatorLowRelevance      Indicator = "low_relevance"
	IndicatorPhoneticConfusion Indicator = "phonetic_confusion"
	IndicatorDomainMismatch    Indicator = "domain_mismatch"
	IndicatorLowConfidence     Indicator = "low_stt_confidence"
)

// ClarificationType selects the follow-up question the agent should ask.
type ClarificationType string

const (
	ClarifyPhonetic   ClarificationType = "phonetic_clarification"
	ClarifyIntent     ClarificationType = "intent_clarification"
	ClarifyDomain     ClarificationType = "domain_clarification"
	ClarifyConfidence ClarificationType = "confidence_clarification"
	ClarifyGeneral    ClarificationType = "general_clarification"
)

// Correction is a phonetically plausible replacement for one word.
type Correction struct {
	OriginalWord      string  `json:"original_word"`
	SuggestedWord     string  `json:"suggested_word"`
	CorrectedSentence string  `json:"corrected_sentence"`
	Confidence        float64 `json:"confidence"`
}

// Analysis annotates a user turn. It is a hint for later review; the
// agent is never overruled by it.
type Analysis struct {
	LikelySTTError    bool              `json:"is_likely_stt_error"`
	Score             float64           `json:"confidence_score"`
	Indicators        []Indicator       `json:"error_indicators"`
	Corrections       []Correction      `json:"suggested_corrections,omitempty"`
	ShouldClarify     bool              `json:"should_clarify"`
	ClarificationType ClarificationType `json:"clarification_type,omitempty"`
}

// errorThreshold: accumulated indicator weight at or above this marks
// the turn as a likely transcription error.
const errorThreshold = 0.5

var transportIntents = map[string][]string{
	"booking":    {"book", "schedule", "reserve", "arrange", "get", "need", "want"},
	"ride_types": {"ride", "trip", "transportation", "taxi", "uber", "lyft", "car", "vehicle"},
	"locations":  {"pickup", "drop", "from", "to", "address", "street", "avenue", "place", "location"},
	"time":       {"now", "later", "tomorrow", "today", "time", "when", "schedule"},
	"history":    {"history", "past", "previous", "before", "earlier", "last"},
	"status":     {"status", "where", "track", "check", "update", "progress"},
	"payment":    {"pay", "payment", "cost", "price", "fare", "charge", "bill", "cash", "card"},
	"cancel":     {"cancel", "stop", "end", "terminate", "abort", "quit"},
}

var nonTransportWords = []string{
	"date", "food", "eat", "burger", "pizza", "restaurant", "dinner", "lunch",
	"movie", "film", "show", "watch", "entertainment", "game", "play",
	"medicine", "pill", "doctor", "hospital", "pharmacy", "health",
	"shop", "buy", "purchase", "store", "mall", "clothes",
}

var phoneticPatterns = map[string][]string{
	"ride":  {"date", "right", "wide", "side", "hide", "guide"},
	"book":  {"look", "took", "cook", "hook", "nook"},
	"trip":  {"tip", "grip", "ship", "slip", "flip"},
	"pick":  {"tick", "kick", "sick", "quick", "thick"},
	"drop":  {"stop", "shop", "top", "hop", "crop"},
	"fare":  {"fair", "fear", "hair", "care", "dare"},
	"car":   {"bar", "far", "jar", "star", "tar"},
	"taxi":  {"tacky", "text", "task"},
	"uber":  {"over", "under", "upper"},
	"when":  {"then", "ten", "win", "pen"},
	"where": {"wear", "were", "here", "there"},
	"time":  {"dime", "lime", "mime", "crime"},
	"now":   {"how", "cow", "wow", "bow"},
	"pay":   {"way", "day", "say", "may"},
	"cost":  {"lost", "most", "post", "host"},
	"check": {"deck", "neck", "wreck", "tech"},
}

// Detect analyses one transcribed user turn against the assistant's
// reply and recent context. confidence < 0 means the STT engine
// reported none.
func Detect(userInput, botResponse string, history []string, confidence float64) Analysis {
	var a Analysis
	if strings.TrimSpace(userInput) == "" || strings.TrimSpace(botResponse) == "" {
		return a
	}

	userLower := strings.ToLower(userInput)
	botLower := strings.ToLower(botResponse)

	if intentMismatch(userLower, botLower) {
		a.Indicators = append(a.Indicators, IndicatorIntentMismatch)
		a.Score += 0.3
	}
	if !contextCoherent(userLower, botLower, history) {
		a.Indicators = append(a.Indicators, IndicatorContextIncoherent)
		a.Score += 0.2
	}
	if relevanceScore(userLower, botLower) < 0.4 {
		a.Indicators = append(a.Indicators, IndicatorLowRelevance)
		a.Score += 0.2
	}
	if corr := phoneticAlternatives(userLower, botLower); len(corr) > 0 {
		a.Indicators = append(a.Indicators, IndicatorPhoneticConfusion)
		a.Corrections = corr
		a.Score += 0.3
	}
	if domainMismatch(userLower, botLower) {
		a.Indicators = append(a.Indicators, IndicatorDomainMismatch)
		a.Score += 0.2
	}
	if confidence >= 0 && confidence < 0.6 {
		a.Indicators = append(a.Indicators, IndicatorLowConfidence)
		a.Score += 0.4
	}

	a.LikelySTTError = a.Score >= errorThreshold
	if a.LikelySTTError {
		a.ShouldClarify = true
		a.ClarificationType = clarificationType(a)
	}
	return a
}

func intentsOf(text string) map[string]bool {
	found := make(map[string]bool)
	for intent, keywords := range transportIntents {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				found[intent] = true
				break
			}
		}
	}
	return found
}

func hasNonTransportWord(text string) bool {
	for _, w := range nonTransportWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func intentMismatch(userLower, botLower string) bool {
	userIntents := intentsOf(userLower)
	botIntents := intentsOf(botLower)

	if hasNonTransportWord(userLower) && len(botIntents) > 0 {
		return true
	}
	if len(userIntents) == 0 || len(botIntents) == 0 {
		return false
	}
	for intent := range userIntents {
		if botIntents[intent] {
			return false
		}
	}
	return true
}

// contextCoherent flags the case where the conversation was clearly
// about transport, the user turn no longer fits, yet the assistant
// carried on as if it did.
func contextCoherent(userLower, botLower string, history []string) bool {
	if len(history) == 0 {
		return true
	}
	recent := history
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	recentLower := strings.ToLower(strings.Join(recent, " "))

	transportContext := len(intentsOf(recentLower)) > 0
	userFits := len(intentsOf(userLower)) > 0
	botFits := len(intentsOf(botLower)) > 0

	return !(transportContext && !userFits && botFits)
}

func relevanceScore(userLower, botLower string) float64 {
	userWords := strings.Fields(userLower)
	botWords := strings.Fields(botLower)
	if len(userWords) == 0 {
		return 0
	}

	botSet := make(map[string]bool, len(botWords))
	for _, w := range botWords {
		botSet[w] = true
	}
	common := 0
	for _, w := range dedupe(userWords) {
		if botSet[w] {
			common++
		}
	}
	overlap := float64(common) / float64(len(dedupe(userWords)))

	userTransport := transportWordRatio(userWords)
	botTransport := transportWordRatio(botWords)

	return overlap*0.3 + min(userTransport, botTransport)*0.7
}

func transportWordRatio(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	count := 0
	for _, w := range words {
		if isTransportKeyword(w) {
			count++
		}
	}
	return float64(count) / float64(len(words))
}

func isTransportKeyword(w string) bool {
	for _, keywords := range transportIntents {
		for _, kw := range keywords {
			if w == kw {
				return true
			}
		}
	}
	return false
}

func dedupe(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := words[:0:0]
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// phoneticAlternatives returns up to three corrections where a user
// word sounds like a transport word the assistant actually used.
func phoneticAlternatives(userLower, botLower string) []Correction {
	var out []Correction
	words := strings.Fields(userLower)
	for i, w := range words {
		for transportWord, alternatives := range phoneticPatterns {
			if !strings.Contains(botLower, transportWord) {
				continue
			}
			for _, alt := range alternatives {
				if w != alt {
					continue
				}
				corrected := make([]string, len(words))
				copy(corrected, words)
				corrected[i] = transportWord
				out = append(out, Correction{
					OriginalWord:      w,
					SuggestedWord:     transportWord,
					CorrectedSentence: strings.Join(corrected, " "),
					Confidence:        phoneticConfidence(transportWord, botLower),
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func phoneticConfidence(suggested, botLower string) float64 {
	conf := 0.5
	if strings.Contains(botLower, suggested) {
		conf += 0.3
	}
	related := append(append([]string{}, transportIntents["ride_types"]...), transportIntents["booking"]...)
	count := 0
	for _, w := range related {
		if strings.Contains(botLower, w) {
			count++
		}
	}
	conf += min(float64(count)*0.1, 0.2)
	return min(conf, 1.0)
}

func domainMismatch(userLower, botLower string) bool {
	nonTransport := 0
	for _, w := range nonTransportWords {
		if strings.Contains(userLower, w) {
			nonTransport++
		}
	}
	if nonTransport == 0 {
		return false
	}
	for _, keywords := range transportIntents {
		for _, kw := range keywords {
			if strings.Contains(botLower, kw) {
				return true
			}
		}
	}
	return false
}

func clarificationType(a Analysis) ClarificationType {
	has := func(ind Indicator) bool {
		for _, i := range a.Indicators {
			if i == ind {
				return true
			}
		}
		return false
	}
	switch {
	case has(IndicatorPhoneticConfusion) && len(a.Corrections) > 0:
		return ClarifyPhonetic
	case has(IndicatorIntentMismatch):
		return ClarifyIntent
	case has(IndicatorDomainMismatch):
		return ClarifyDomain
	case has(IndicatorLowConfidence):
		return ClarifyConfidence
	default:
		return ClarifyGeneral
	}
}

// Clarification renders the question the agent should ask for the
// detected error class.
func (a Analysis) Clarification() string {
	switch a.ClarificationType {
	case ClarifyPhonetic:
		if len(a.Corrections) > 0 {
			top := a.Corrections[0]
			return "Just to confirm, did you say '" + top.SuggestedWord + "' or '" + top.OriginalWord + "'?"
		}
		fallthrough
	case ClarifyIntent:
		return "I want to make sure I understand what you need. Are you looking for help with transportation services like booking a ride, checking trip history, or something else?"
	case ClarifyDomain:
		return "I specialize in transportation services. Are you looking to book a ride, check your trip history, or get help with transportation?"
	case ClarifyConfidence:
		return "I want to make sure I heard you correctly. Could you please repeat what you need help with?"
	default:
		return "I want to make sure I understand what you're looking for. Could you please clarify what you need help with?"
	}
}
