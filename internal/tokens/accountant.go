// Package tokens turns raw token counts into totals and estimated cost.
package tokens

// Rates holds per-million-token prices in USD for one model.
type Rates struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// modelRates maps model ids to their published prices. Unknown models
// fall back to the 3.5 Sonnet rates.
var modelRates = map[string]Rates{
	"claude-3-5-sonnet-20241022": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-3-7-sonnet-20250219": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 0.8, OutputPerMillion: 4.0},
}

var defaultRates = Rates{InputPerMillion: 3.0, OutputPerMillion: 15.0}

// Totals is the finalized accounting for one model call.
type Totals struct {
	TotalTokens   int
	EstimatedCost float64
}

// Accountant computes totals and cost for a fixed model. It carries no
// state and is safe for concurrent use.
type Accountant struct {
	rates Rates
}

// NewAccountant returns an accountant using the model's fixed rates.
func NewAccountant(model string) Accountant {
	rates, ok := modelRates[model]
	if !ok {
		rates = defaultRates
	}
	return Accountant{rates: rates}
}

// Finalize converts raw input/output token counts into a running total
// and an estimated cost. Pure arithmetic: the total is the sum and the
// cost is linear in each argument.
func (a Accountant) Finalize(inputTokens, outputTokens int) Totals {
	return Totals{
		TotalTokens: inputTokens + outputTokens,
		EstimatedCost: float64(inputTokens)*a.rates.InputPerMillion/1_000_000 +
			float64(outputTokens)*a.rates.OutputPerMillion/1_000_000,
	}
}
