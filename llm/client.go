// ABOUTME: Provider-neutral LLM invocation surface used by pipeline stages.
// ABOUTME: Defines the request/response types, structured-output schemas, and token usage accounting.
package llm

import "context"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one turn of conversation input.
type Message struct {
	Role    Role
	Content string
}

// ResponseSchema requests structured output conforming to a JSON schema.
// When Strict is set the provider enforces the schema; otherwise the client
// asks for JSON and validates leniently on the way out.
type ResponseSchema struct {
	Name        string
	Description string
	Schema      map[string]any
	Strict      bool
}

// Request describes one model invocation.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	// Schema, when non-nil, requests structured JSON output.
	Schema *ResponseSchema
}

// Usage is the token accounting for one invocation.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Response is the result of one model invocation.
type Response struct {
	// Text is the raw model output.
	Text string
	// Object is the parsed structured output when the request carried a schema.
	Object map[string]any
	Usage  Usage
	Model  string
}

// Client is the minimal surface stages invoke models through. Implementations
// must classify provider failures into the error hierarchy in errors.go so
// the retry executor can distinguish transient from fatal outcomes.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
