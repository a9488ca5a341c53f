package consilium

import (
	"context"
	"encoding/json"
)

// ChatClient abstracts the LLM backend. The engine only ever needs two
// operations: a deterministic structured classification and free-form text
// generation. Both must honor ctx deadlines and cancellation.
type ChatClient interface {
	// Classify sends a classification prompt and returns the model's raw
	// JSON object. Implementations run at temperature 0 so routing stays
	// deterministic for identical inputs.
	Classify(ctx context.Context, prompt string) (json.RawMessage, error)
	// Generate sends a prompt and returns the model's text response.
	Generate(ctx context.Context, prompt string) (string, error)
	// Name returns the backend name (e.g. "openai-compat").
	Name() string
}
