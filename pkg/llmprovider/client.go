// Package llmprovider is the uniform abstraction the five classification
// agents call through: one Generate contract over local and remote
// model backends, with JSON-schema enforcement and repair retries so an
// agent never has to parse free text (spec §4.3).
package llmprovider

import "context"

// Message is one turn in a chat-formatted prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingOptions tune generation determinism. Seed is set per spec §5
// to make deterministic-replay tests possible.
type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
}

// Request is one structured-output generation call: messages plus the
// JSON Schema the response must validate against.
type Request struct {
	Messages []Message
	Schema   map[string]any
	Options  SamplingOptions
	ModelHint string // e.g. "fast", "smart"; empty lets the Router decide
}

// Response is a validated, schema-conformant model reply.
type Response struct {
	Raw        string         // raw model text, kept for the audit trail
	Structured map[string]any // Raw parsed and validated against Request.Schema
	ModelID    string
	Repaired   bool // true if a repair retry was needed before validation passed
}

// Client is the common contract every backend implements.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
