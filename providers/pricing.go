package providers

// ModelPricing holds per-token prices in USD per 1 million tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// PricingTable maps "provider/model" keys to pricing data. Prices are
// best-effort snapshots of public pricing pages and may lag behind
// provider price changes.
var PricingTable = map[string]ModelPricing{
	// OpenAI
	"openai/gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"openai/gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"openai/gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"openai/gpt-4":         {InputPer1M: 30.00, OutputPer1M: 60.00},
	"openai/gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	// Anthropic
	"anthropic/claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"anthropic/claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"anthropic/claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"anthropic/claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	// AWS Bedrock (Anthropic models)
	"bedrock/anthropic.claude-3-5-sonnet-20241022-v2:0": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"bedrock/anthropic.claude-3-5-haiku-20241022-v1:0":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"bedrock/anthropic.claude-3-haiku-20240307-v1:0":    {InputPer1M: 0.25, OutputPer1M: 1.25},
}

// EstimateCost returns the estimated USD cost for the given usage. It
// looks up pricing by "provider/model" and falls back to zero when the
// model is not in the table.
func EstimateCost(provider, model string, usage Usage) float64 {
	p, ok := PricingTable[provider+"/"+model]
	if !ok {
		return 0
	}
	inputCost := float64(usage.PromptTokens) / 1_000_000 * p.InputPer1M
	outputCost := float64(usage.CompletionTokens) / 1_000_000 * p.OutputPer1M
	return inputCost + outputCost
}
