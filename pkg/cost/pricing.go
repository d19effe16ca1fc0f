package cost

// DefaultPricing contains per-model pricing as of the last rate update.
// Prices are in USD per 1 million tokens. These are configurable via
// Tracker.SetPricing and should be updated as providers change their rates.
var DefaultPricing = map[string]ModelPricing{
	// --- OpenAI ---
	"gpt-4o":      {PromptPer1M: 2.50, CompletionPer1M: 10.00},
	"gpt-4o-mini": {PromptPer1M: 0.15, CompletionPer1M: 0.60},
	"gpt-4-turbo": {PromptPer1M: 10.00, CompletionPer1M: 30.00},
	"o1-mini":     {PromptPer1M: 1.10, CompletionPer1M: 4.40},

	// --- Anthropic ---
	"claude-3-5-sonnet": {PromptPer1M: 3.00, CompletionPer1M: 15.00},
	"claude-3-5-haiku":  {PromptPer1M: 0.80, CompletionPer1M: 4.00},
	"claude-3-opus":     {PromptPer1M: 15.00, CompletionPer1M: 75.00},

	// --- Google Gemini ---
	"gemini-1.5-pro":   {PromptPer1M: 1.25, CompletionPer1M: 5.00},
	"gemini-1.5-flash": {PromptPer1M: 0.075, CompletionPer1M: 0.30},
	"gemini-2.0-flash": {PromptPer1M: 0.10, CompletionPer1M: 0.40},

	// --- Local inference (OpenAI-compatible server, e.g. llama.cpp/vLLM) ---
	// Zero cost: the caller runs these on their own hardware.
	"local-default": {PromptPer1M: 0, CompletionPer1M: 0},
}
