package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fiscalclass/engine/pkg/llmprovider"
	"github.com/fiscalclass/engine/pkg/retrieval"
)

// abbreviations expands common NF-e description shorthand before the LLM
// residual pass runs, so the model sees "com" not "c/".
var abbreviations = map[string]string{
	"c/":  "com",
	"s/":  "sem",
	"p/":  "para",
	"qtd": "quantidade",
	"emb": "embalagem",
	"un":  "unidade",
	"kg":  "quilograma",
}

// tagSchemas maps a small set of keyword-scored product categories to
// the attribute schema the LLM residual pass should fill in — the same
// shape as a heuristic fast/smart router, here choosing a schema instead
// of a model tier (spec §4.4.1).
var tagSchemas = map[string][]string{
	"eletronico": {"eletronico", "eletrônico", "bateria", "voltagem", "watts"},
	"alimenticio": {"alimento", "comestivel", "comestível", "validade", "kg", "ml"},
	"textil":      {"tecido", "algodao", "algodão", "poliester", "poliéster", "tamanho"},
	"generic":     {},
}

// residualSchema is the JSON Schema the LLM must fill in per tag schema;
// kept intentionally small and shared across schemas with attributes as
// a free-form map, since the catalogue of possible product categories is
// open-ended.
var residualSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"description_enriched": map[string]any{"type": "string"},
		"material":             map[string]any{"type": "string"},
		"function":             map[string]any{"type": "string"},
		"attributes": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
	},
	"required":             []any{"description_enriched"},
	"additionalProperties": false,
}

// EnrichmentAgent normalises a raw product description into structured
// attributes the downstream NCM/CEST agents reason over.
type EnrichmentAgent struct {
	llm     llmprovider.Client
	version string
}

func NewEnrichmentAgent(llm llmprovider.Client) *EnrichmentAgent {
	return &EnrichmentAgent{llm: llm, version: "enrichment-v1"}
}

func (a *EnrichmentAgent) Name() Name            { return NameEnrichment }
func (a *EnrichmentAgent) PromptVersion() string { return a.version }

func (a *EnrichmentAgent) RetrievalPlan(s State) RetrievalPlan {
	return RetrievalPlan{Modes: []retrieval.Mode{retrieval.ModeSparse}, TopK: 5}
}

func (a *EnrichmentAgent) Process(ctx context.Context, s State, evidence []retrieval.Evidence) (State, error) {
	expanded := expandAbbreviations(s.Product.DescriptionRaw)
	schema := classifyTagSchema(expanded)

	prompt := buildResidualPrompt(expanded, schema, evidence)
	resp, err := a.llm.Generate(ctx, llmprovider.Request{
		Messages: []llmprovider.Message{
			{Role: "system", Content: "You extract structured fiscal product attributes from a free-text description. Respond with JSON only."},
			{Role: "user", Content: prompt},
		},
		Schema:    residualSchema,
		ModelHint: "fast",
	})
	if err != nil {
		return s, fmt.Errorf("agents: enrichment: %w", err)
	}

	enriched := EnrichedAttributes{TagSchema: schema}
	attempted, parsed := 0, 0

	attempted++
	if v, ok := resp.Structured["description_enriched"].(string); ok {
		enriched.DescriptionEnriched = v
		parsed++
	} else {
		enriched.DescriptionEnriched = expanded
	}
	attempted++
	if v, ok := resp.Structured["material"].(string); ok {
		enriched.Material = v
		parsed++
	}
	attempted++
	if v, ok := resp.Structured["function"].(string); ok {
		enriched.Function = v
		parsed++
	}
	attempted++
	if raw, ok := resp.Structured["attributes"].(map[string]any); ok {
		parsed++
		enriched.Attributes = map[string]string{}
		for k, v := range raw {
			if sv, ok := v.(string); ok {
				enriched.Attributes[k] = sv
			}
		}
	}
	if attempted > 0 {
		enriched.Confidence = float64(parsed) / float64(attempted)
	}

	s.Enriched = &enriched
	s.LastModelID = resp.ModelID
	s.LastJustification = fmt.Sprintf("extracted %d/%d attributes for tag schema %q", parsed, attempted, schema)
	return s, nil
}

func expandAbbreviations(raw string) string {
	out := strings.ToLower(raw)
	for abbr, full := range abbreviations {
		out = strings.ReplaceAll(out, abbr, full)
	}
	return out
}

func classifyTagSchema(description string) string {
	lower := strings.ToLower(description)
	bestSchema, bestScore := "generic", 0
	for schema, keywords := range tagSchemas {
		score := 0
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				score++
			}
		}
		if score > bestScore {
			bestSchema, bestScore = schema, score
		}
	}
	return bestSchema
}

func buildResidualPrompt(description, schema string, evidence []retrieval.Evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product description: %s\n", description)
	fmt.Fprintf(&b, "Candidate category: %s\n", schema)
	if len(evidence) > 0 {
		b.WriteString("Related catalogue examples:\n")
		for _, e := range evidence {
			fmt.Fprintf(&b, "- %s\n", e.Excerpt)
		}
	}
	b.WriteString("Fill in the missing structured attributes.")
	return b.String()
}
