package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/kb"
	"github.com/fiscalclass/engine/pkg/llmprovider"
	"github.com/fiscalclass/engine/pkg/retrieval"
)

var cestSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"cest":          map[string]any{"type": "string"},
		"not_applicable": map[string]any{"type": "boolean"},
		"confidence":    map[string]any{"type": "number"},
		"justification": map[string]any{"type": "string"},
	},
	"required":             []any{"confidence", "justification"},
	"additionalProperties": false,
}

// CESTAgent selects a CEST substitution-tax code conditioned on the NCM
// the NCMAgent already settled on, or explicitly returns NotApplicable
// when no CEST rule's NCM pattern and segment predicate both match
// (spec §4.4.4). Segment compatibility itself was already evaluated by
// retrieval.RuleSource's CEL predicate when the evidence was fetched —
// this agent reasons over pre-filtered candidates, it does not
// re-implement the predicate.
type CESTAgent struct {
	llm     llmprovider.Client
	kb      *kb.Handle
	version string
}

func NewCESTAgent(llm llmprovider.Client, handle *kb.Handle) *CESTAgent {
	return &CESTAgent{llm: llm, kb: handle, version: "cest-v1"}
}

func (a *CESTAgent) Name() Name            { return NameCEST }
func (a *CESTAgent) PromptVersion() string { return a.version }

func (a *CESTAgent) RetrievalPlan(s State) RetrievalPlan {
	return RetrievalPlan{
		Modes: []retrieval.Mode{retrieval.ModeRule, retrieval.ModeGolden},
		TopK:  8,
		Filters: retrieval.Filters{
			NCMPrefix: s.NCMCandidate,
			Segment:   s.Product.CompanyActivity,
			ValidAt:   s.Now,
		},
	}
}

func (a *CESTAgent) Process(ctx context.Context, s State, evidence []retrieval.Evidence) (State, error) {
	ruleEvidence := filterByKind(evidence, retrieval.SourceCESTRule)
	if len(ruleEvidence) == 0 {
		s.CESTCandidate = classification.NotApplicable
		s.CESTNotApplicable = true
		s.CESTConfidence = 1.0
		s.CESTJustification = "no CEST rule pattern matches this NCM/segment combination"
		s.LastModelID = ""
		s.LastJustification = s.CESTJustification
		return s, nil
	}

	resp, err := a.ask(ctx, s, ruleEvidence)
	if err != nil {
		return s, fmt.Errorf("agents: cest: %w", err)
	}

	notApplicable, _ := resp.Structured["not_applicable"].(bool)
	confidence, _ := resp.Structured["confidence"].(float64)
	justification, _ := resp.Structured["justification"].(string)

	if notApplicable {
		s.CESTCandidate = classification.NotApplicable
		s.CESTNotApplicable = true
		s.CESTConfidence = confidence
		s.CESTJustification = justification
		s.LastModelID = resp.ModelID
		s.LastJustification = justification
		return s, nil
	}

	cest, _ := resp.Structured["cest"].(string)
	cest = strings.TrimSpace(cest)
	if err := a.checkPostcondition(cest); err != nil {
		return s, fmt.Errorf("agents: cest: postcondition failed for %q: %w", cest, err)
	}

	s.CESTCandidate = cest
	s.CESTConfidence = confidence
	s.CESTJustification = justification
	s.LastModelID = resp.ModelID
	s.LastJustification = justification
	return s, nil
}

func (a *CESTAgent) checkPostcondition(cest string) error {
	if len(cest) != 7 {
		return fmt.Errorf("cest %q is not 7 digits", cest)
	}
	snap := a.kb.Current()
	if _, ok := snap.CEST[cest]; !ok {
		return fmt.Errorf("cest %q not present in knowledge base snapshot", cest)
	}
	return nil
}

func (a *CESTAgent) ask(ctx context.Context, s State, evidence []retrieval.Evidence) (llmprovider.Response, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "NCM already determined: %s\n", s.NCMCandidate)
	description := s.Product.DescriptionRaw
	if s.Enriched != nil && s.Enriched.DescriptionEnriched != "" {
		description = s.Enriched.DescriptionEnriched
	}
	fmt.Fprintf(&b, "Product description: %s\n", description)
	b.WriteString("Candidate CEST rules (already filtered to this NCM and commercial segment):\n")
	for _, e := range evidence {
		fmt.Fprintf(&b, "- %s (score=%.3f)\n", e.Excerpt, e.Score)
	}
	b.WriteString("Select the correct 7-digit CEST, or set not_applicable=true if none genuinely fits.")

	return a.llm.Generate(ctx, llmprovider.Request{
		Messages: []llmprovider.Message{
			{Role: "system", Content: "You select the correct ICMS substitution tax CEST code for a product given its NCM and candidate rules. Respond with JSON only."},
			{Role: "user", Content: b.String()},
		},
		Schema:    cestSchema,
		ModelHint: "fast",
	})
}

func filterByKind(evidence []retrieval.Evidence, kind retrieval.SourceKind) []retrieval.Evidence {
	out := make([]retrieval.Evidence, 0, len(evidence))
	for _, e := range evidence {
		if e.SourceKind == kind {
			out = append(out, e)
		}
	}
	return out
}
