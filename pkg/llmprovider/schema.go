package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaError reports a response that failed schema validation even
// after the repair retry (spec §4.3, §7).
type SchemaError struct {
	ModelID string
	Raw     string
	Cause   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("llmprovider: response from %s failed schema validation: %v", e.ModelID, e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

// SchemaClient wraps a ChatBackend and enforces that every response
// parses as JSON and validates against Request.Schema. On the first
// failure it retries once with a repair instruction appended to the
// prompt (grounded on the teacher's PolicyFirewall JSON-Schema
// compile-and-validate gate, generalised here from a tool-call allowlist
// to a structured-output contract).
type SchemaClient struct {
	backend  ChatBackend
	compiler *jsonschema.Compiler
}

func NewSchemaClient(backend ChatBackend) *SchemaClient {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	return &SchemaClient{backend: backend, compiler: c}
}

func (c *SchemaClient) Generate(ctx context.Context, req Request) (Response, error) {
	schema, err := c.compile(req.Schema)
	if err != nil {
		return Response{}, fmt.Errorf("llmprovider: compile schema: %w", err)
	}

	text, modelID, err := c.backend.Chat(ctx, req.Messages, req.Options)
	if err != nil {
		return Response{}, err
	}
	structured, verr := parseAndValidate(schema, text)
	if verr == nil {
		return Response{Raw: text, Structured: structured, ModelID: modelID}, nil
	}

	repairMsgs := append(append([]Message{}, req.Messages...), Message{
		Role: "user",
		Content: "The previous response did not validate against the required JSON schema: " +
			verr.Error() + ". Reply again with ONLY a JSON object conforming to the schema, no prose.",
	})
	text2, modelID2, err := c.backend.Chat(ctx, repairMsgs, req.Options)
	if err != nil {
		return Response{}, err
	}
	structured2, verr2 := parseAndValidate(schema, text2)
	if verr2 != nil {
		return Response{}, &SchemaError{ModelID: modelID2, Raw: text2, Cause: verr2}
	}
	return Response{Raw: text2, Structured: structured2, ModelID: modelID2, Repaired: true}, nil
}

func (c *SchemaClient) compile(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("mem://llmprovider/schema/%x.json", hashBytes(raw))
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func parseAndValidate(schema *jsonschema.Schema, text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(stripCodeFence(text))
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, fmt.Errorf("not valid JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, err
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is valid JSON but not an object")
	}
	return obj, nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add
// despite being asked for raw JSON.
func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return text
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return t
}

func hashBytes(b []byte) uint32 {
	var h uint32 = 2166136261
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	return h
}
