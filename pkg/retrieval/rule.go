package retrieval

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/fiscalclass/engine/pkg/kb"
)

// RuleSource is the structured/graph retrieval mode: prefix lookups over
// the NCM hierarchy and CEST rule table, with segment compatibility
// decided by a compiled CEL predicate rather than a hardcoded switch
// (spec §4.2, §4.4.4 "segment compatibility is evaluated, not
// hand-coded").
type RuleSource struct {
	kb  *kb.Handle
	env *cel.Env
}

// NewRuleSource builds the CEL environment once; a rule's segment
// expression is compiled each time it is evaluated, and compiled programs
// are not cached.
func NewRuleSource(handle *kb.Handle) (*RuleSource, error) {
	env, err := cel.NewEnv(
		cel.Variable("company_activity", cel.StringType),
		cel.Variable("product_description", cel.StringType),
		cel.Variable("segment_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("retrieval: build cel env: %w", err)
	}
	return &RuleSource{kb: handle, env: env}, nil
}

func (s *RuleSource) Mode() Mode { return ModeRule }

func (s *RuleSource) Run(ctx context.Context, q Query) ([]Evidence, error) {
	snap := s.kb.Current()
	if q.Filters.NCMPrefix == "" {
		return nil, nil
	}
	var evidence []Evidence

	for _, n := range snap.NCMByPrefix(q.Filters.NCMPrefix) {
		evidence = append(evidence, Evidence{
			SourceKind:    SourceNCMTable,
			SourceLocator: "ncm:" + n.Code,
			Excerpt:       n.Description,
			Score:         1.0,
			PatternLevel:  len(n.Code),
		})
	}

	ncm8 := q.Filters.NCMPrefix
	for len(ncm8) < 8 {
		ncm8 += "0"
	}
	for _, rule := range snap.CESTRulesForNCM(ncm8, q.Filters.ValidAt, q.Filters.IncludeExpired) {
		if q.Filters.Segment != "" && rule.SegmentCELExpr != "" {
			ok, err := s.evalSegment(rule.SegmentCELExpr, rule.SegmentID, q.Filters.Segment)
			if err != nil {
				return nil, &Error{Mode: ModeRule, Transient: false, Err: err}
			}
			if !ok {
				continue
			}
		}
		evidence = append(evidence, Evidence{
			SourceKind:    SourceCESTRule,
			SourceLocator: "cest:" + rule.CEST + ":" + rule.Source,
			Excerpt:       rule.Description,
			Score:         1.0,
			PatternLevel:  rule.MostSpecificLevel(ncm8),
			ValidityStart: rule.ValidityStart,
			Expired:       !rule.Active(q.Filters.ValidAt),
		})
	}
	return evidence, nil
}

// evalSegment evaluates expr with segmentID bound to the rule's own
// commercial segment tag and companyActivity bound to the product's
// declared activity (spec §4.4.4) — the two are distinct values, not
// aliases of each other.
func (s *RuleSource) evalSegment(expr, segmentID, companyActivity string) (bool, error) {
	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("compile segment expr %q: %w", expr, issues.Err())
	}
	prg, err := s.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("program segment expr %q: %w", expr, err)
	}
	out, _, err := prg.Eval(map[string]any{
		"segment_id":          segmentID,
		"company_activity":    companyActivity,
		"product_description": "",
	})
	if err != nil {
		return false, fmt.Errorf("eval segment expr %q: %w", expr, err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("segment expr %q did not evaluate to bool, got %T", expr, out)
	}
	return bool(b), nil
}
