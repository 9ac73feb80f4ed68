package llm

import "strings"

// modelPricing is USD per 1M tokens.
type modelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// priceTable is keyed by model family. Providers often answer with a dated
// id (gpt-4o-mini-2024-07-18), so lookups match the longest known prefix.
var priceTable = map[string]modelPricing{
	"claude-haiku-4-5":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"claude-sonnet-4-5": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"gpt-4o":            {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gemini-2.0-flash":  {InputPerMillion: 0.10, OutputPerMillion: 0.40},
	"MiniMax-M1":        {InputPerMillion: 0.40, OutputPerMillion: 2.20},
}

// EstimateCost returns the estimated USD cost of one call, or 0 for models
// without a known price (local models included).
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := lookupPricing(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000.0*pricing.InputPerMillion +
		float64(outputTokens)/1_000_000.0*pricing.OutputPerMillion
}

func lookupPricing(model string) (modelPricing, bool) {
	best, found := "", false
	for family := range priceTable {
		if strings.HasPrefix(model, family) && len(family) > len(best) {
			best, found = family, true
		}
	}
	return priceTable[best], found
}
