package llmprovider

import "context"

// ChatBackend is the raw, unstructured call a concrete model integration
// implements. SchemaClient wraps one of these to produce the
// schema-validated Client contract agents actually use.
type ChatBackend interface {
	Chat(ctx context.Context, messages []Message, options SamplingOptions) (text string, modelID string, err error)
}
