package ledger

// USD prices per million tokens, keyed by model name.
type ModelPrice struct {
	InputPerM  float64
	OutputPerM float64
}

var modelPrices = map[string]ModelPrice{
	"gpt-4.1-mini": {InputPerM: 0.40, OutputPerM: 1.60},
	"gpt-4o-mini":  {InputPerM: 0.15, OutputPerM: 0.60},
	"gpt-4o":       {InputPerM: 2.50, OutputPerM: 10.00},
}

const (
	sttPerMinuteUSD    = 0.004
	ttsPerMillionChars = 15.00
)

// PriceFor returns the price row for a model, falling back to gpt-4o-mini
// for unknown models so an unpriced model never zeroes out a call's cost.
func PriceFor(model string) ModelPrice {
	if p, ok := modelPrices[model]; ok {
		return p
	}
	return modelPrices["gpt-4o-mini"]
}

func llmCost(model string, inputTokens, outputTokens int64) float64 {
	p := PriceFor(model)
	return float64(inputTokens)/1e6*p.InputPerM + float64(outputTokens)/1e6*p.OutputPerM
}

func sttCost(audioSeconds float64) float64 {
	return audioSeconds / 60.0 * sttPerMinuteUSD
}

func ttsCost(characters int64) float64 {
	return float64(characters) / 1e6 * ttsPerMillionChars
}
