package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fiscalclass/engine/pkg/kb"
	"github.com/fiscalclass/engine/pkg/llmprovider"
	"github.com/fiscalclass/engine/pkg/retrieval"
)

var ncmSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"ncm":           map[string]any{"type": "string"},
		"confidence":    map[string]any{"type": "number"},
		"justification": map[string]any{"type": "string"},
		"accept":        map[string]any{"type": "boolean"},
	},
	"required":             []any{"ncm", "confidence", "justification"},
	"additionalProperties": false,
}

// NCMAgent confirms a declared NCM (Validate mode) or selects one from
// scratch (Determine mode), per spec §4.4.3. A Validate response pivots
// the same State into Determine mode — rather than erroring the flow —
// whenever the model rejects the declared code OR returns confidence
// below pivotThreshold (spec §4.5: "on 'not confirmed' or confidence <
// pivot_threshold").
type NCMAgent struct {
	llm            llmprovider.Client
	kb             *kb.Handle
	pivotThreshold float64
	version        string
}

func NewNCMAgent(llm llmprovider.Client, handle *kb.Handle, pivotThreshold float64) *NCMAgent {
	return &NCMAgent{llm: llm, kb: handle, pivotThreshold: pivotThreshold, version: "ncm-v1"}
}

func (a *NCMAgent) Name() Name            { return NameNCM }
func (a *NCMAgent) PromptVersion() string { return a.version }

func (a *NCMAgent) RetrievalPlan(s State) RetrievalPlan {
	filters := retrieval.Filters{}
	if s.Product.NCMDeclared != "" {
		filters.NCMPrefix = s.Product.NCMDeclared
	}
	return RetrievalPlan{
		Modes:   []retrieval.Mode{retrieval.ModeDense, retrieval.ModeSparse, retrieval.ModeRule, retrieval.ModeGolden},
		TopK:    8,
		Filters: filters,
	}
}

func (a *NCMAgent) Process(ctx context.Context, s State, evidence []retrieval.Evidence) (State, error) {
	mode := "determine"
	if s.Product.NCMDeclared != "" && !s.ForceDetermine {
		mode = "validate"
	}
	s.NCMMode = mode

	resp, err := a.ask(ctx, s, evidence, mode)
	if err != nil {
		return s, fmt.Errorf("agents: ncm: %w", err)
	}

	if mode == "validate" {
		accept, _ := resp.Structured["accept"].(bool)
		confidence, _ := resp.Structured["confidence"].(float64)
		if !accept || confidence < a.pivotThreshold {
			// pivot to Determine within the same run, one repair-style
			// retry rather than failing the flow (spec §4.4.3, §4.5).
			s.NCMMode = "determine"
			resp, err = a.ask(ctx, s, evidence, "determine")
			if err != nil {
				return s, fmt.Errorf("agents: ncm: determine after rejected validate: %w", err)
			}
		}
	}

	ncm, _ := resp.Structured["ncm"].(string)
	confidence, _ := resp.Structured["confidence"].(float64)
	justification, _ := resp.Structured["justification"].(string)

	ncm = strings.TrimSpace(ncm)
	if err := a.checkPostcondition(ncm); err != nil {
		return s, fmt.Errorf("agents: ncm: postcondition failed for %q: %w", ncm, err)
	}

	s.NCMCandidate = ncm
	s.NCMConfidence = confidence
	s.NCMJustification = justification
	s.LastModelID = resp.ModelID
	s.LastJustification = justification
	return s, nil
}

// checkPostcondition enforces that whatever NCM the model returns
// actually exists in the KB snapshot currently in effect (spec §4.4.3:
// "never emit a code the knowledge base does not recognise").
func (a *NCMAgent) checkPostcondition(ncm string) error {
	if len(ncm) != 8 {
		return fmt.Errorf("ncm %q is not 8 digits", ncm)
	}
	snap := a.kb.Current()
	if _, ok := snap.NCM[ncm]; !ok {
		return fmt.Errorf("ncm %q not present in knowledge base snapshot", ncm)
	}
	return nil
}

func (a *NCMAgent) ask(ctx context.Context, s State, evidence []retrieval.Evidence, mode string) (llmprovider.Response, error) {
	var b strings.Builder
	description := s.Product.DescriptionRaw
	if s.Enriched != nil && s.Enriched.DescriptionEnriched != "" {
		description = s.Enriched.DescriptionEnriched
	}
	fmt.Fprintf(&b, "Product description: %s\n", description)
	if mode == "validate" {
		fmt.Fprintf(&b, "Declared NCM: %s\nDecide whether this NCM is correct. Set accept=true/false.\n", s.Product.NCMDeclared)
	} else {
		b.WriteString("No usable declared NCM. Determine the correct 8-digit NCM from the evidence below.\n")
	}
	if len(evidence) > 0 {
		b.WriteString("Evidence:\n")
		for _, e := range evidence {
			fmt.Fprintf(&b, "- [%s] %s (score=%.3f)\n", e.SourceKind, e.Excerpt, e.Score)
		}
	}

	return a.llm.Generate(ctx, llmprovider.Request{
		Messages: []llmprovider.Message{
			{Role: "system", Content: "You classify Brazilian merchandise under the NCM tariff code system. Respond with JSON only, citing the evidence you relied on in justification."},
			{Role: "user", Content: b.String()},
		},
		Schema:    ncmSchema,
		ModelHint: modeHint(mode),
	})
}

func modeHint(mode string) string {
	if mode == "determine" {
		return "smart"
	}
	return "fast"
}
