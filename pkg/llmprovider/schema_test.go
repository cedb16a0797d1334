package llmprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedBackend struct {
	texts   []string
	models  []string
	calls   int
}

func (b *scriptedBackend) Chat(context.Context, []Message, SamplingOptions) (string, string, error) {
	i := b.calls
	b.calls++
	return b.texts[i], b.models[i], nil
}

var testSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"ncm": map[string]any{"type": "string"},
	},
	"required":             []any{"ncm"},
	"additionalProperties": false,
}

func TestSchemaClient_ValidatesOnFirstTry(t *testing.T) {
	backend := &scriptedBackend{texts: []string{`{"ncm": "85171231"}`}, models: []string{"fast-1"}}
	c := NewSchemaClient(backend)

	resp, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}, Schema: testSchema})
	require.NoError(t, err)
	assert.Equal(t, "85171231", resp.Structured["ncm"])
	assert.False(t, resp.Repaired)
	assert.Equal(t, 1, backend.calls)
}

func TestSchemaClient_RepairsOnInvalidFirstResponse(t *testing.T) {
	backend := &scriptedBackend{
		texts:  []string{`not json at all`, `{"ncm": "85171231"}`},
		models: []string{"fast-1", "fast-1"},
	}
	c := NewSchemaClient(backend)

	resp, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}, Schema: testSchema})
	require.NoError(t, err)
	assert.True(t, resp.Repaired)
	assert.Equal(t, 2, backend.calls)
	assert.Equal(t, "85171231", resp.Structured["ncm"])
}

func TestSchemaClient_FailsAfterRepairStillInvalid(t *testing.T) {
	backend := &scriptedBackend{
		texts:  []string{`not json`, `still not json`},
		models: []string{"fast-1", "fast-1"},
	}
	c := NewSchemaClient(backend)

	_, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}, Schema: testSchema})
	require.Error(t, err)
	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestSchemaClient_StripsCodeFence(t *testing.T) {
	backend := &scriptedBackend{texts: []string{"```json\n{\"ncm\": \"85171231\"}\n```"}, models: []string{"fast-1"}}
	c := NewSchemaClient(backend)

	resp, err := c.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}, Schema: testSchema})
	require.NoError(t, err)
	assert.Equal(t, "85171231", resp.Structured["ncm"])
}
