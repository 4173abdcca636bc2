package domain

type PipelineName string

const (
	PipelineVector  PipelineName = "vector"
	PipelineSummary PipelineName = "summary"
)

// RouteDecision records which pipeline answered a query.
type RouteDecision struct {
	Index    int          `json:"index"`
	Pipeline PipelineName `json:"pipeline"`
	Reason   string       `json:"reason,omitempty"`
	Fallback bool         `json:"fallback,omitempty"`
}

// GenerationParams are fixed at capability construction time.
type GenerationParams struct {
	Temperature   float64
	MaxTokens     int
	ContextWindow int
	Streaming     bool
}

func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature:   0.1,
		MaxTokens:     1024,
		ContextWindow: 4096,
		Streaming:     true,
	}
}

// EmptyResponse is streamed when retrieval yields nothing to synthesize from.
const EmptyResponse = "Empty Response"
