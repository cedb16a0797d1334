package agents

import (
	"context"
	"strings"

	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/kb"
	"github.com/fiscalclass/engine/pkg/retrieval"
)

// ReconciliationAgent is the final gate: it cross-checks the citations
// the NCM/CEST agents relied on against the KB snapshot that actually
// produced them, dampens confidence when a citation cannot be verified,
// and can downgrade the outcome to MANUAL_REVIEW without re-running any
// upstream agent (spec §4.4.5) — the same "gate, don't redo" shape as
// the teacher's Guardian, retargeted from execution authorization to
// fiscal-decision review.
type ReconciliationAgent struct {
	kb                *kb.Handle
	ncmConfirmMin     float64
	cestConfirmMin    float64
	unverifiedDamping float64
	version           string
}

func NewReconciliationAgent(handle *kb.Handle, ncmConfirmMin, cestConfirmMin, unverifiedDamping float64) *ReconciliationAgent {
	return &ReconciliationAgent{
		kb:                handle,
		ncmConfirmMin:     ncmConfirmMin,
		cestConfirmMin:    cestConfirmMin,
		unverifiedDamping: unverifiedDamping,
		version:           "reconciliation-v1",
	}
}

func (a *ReconciliationAgent) Name() Name            { return NameReconciliation }
func (a *ReconciliationAgent) PromptVersion() string { return a.version }

func (a *ReconciliationAgent) RetrievalPlan(s State) RetrievalPlan {
	return RetrievalPlan{} // reconciliation reasons over State.Evidence already collected; it fetches nothing new
}

func (a *ReconciliationAgent) Process(_ context.Context, s State, _ []retrieval.Evidence) (State, error) {
	snap := a.kb.Current()

	ncmOK := snap != nil
	if ncmOK {
		_, ncmOK = snap.NCM[s.NCMCandidate]
	}
	cestOK := s.CESTNotApplicable || s.CESTCandidate == classification.NotApplicable
	if !cestOK && snap != nil {
		_, cestOK = snap.CEST[s.CESTCandidate]
	}

	ncmConfidence := s.NCMConfidence
	cestConfidence := s.CESTConfidence
	if !ncmOK {
		ncmConfidence *= a.unverifiedDamping
	}
	if !cestOK {
		cestConfidence *= a.unverifiedDamping
	}
	if !citationsGroundedInEvidence(s) {
		ncmConfidence *= a.unverifiedDamping
		cestConfidence *= a.unverifiedDamping
	}

	s.NCMConfidence = ncmConfidence
	s.CESTConfidence = cestConfidence

	switch {
	case !ncmOK || !cestOK:
		s.FinalStatus = classification.StatusManualReview
		s.FinalNote = "citation could not be verified against the current knowledge base snapshot"
	case ncmConfidence < a.ncmConfirmMin || (s.CESTCandidate != classification.NotApplicable && cestConfidence < a.cestConfirmMin):
		s.FinalStatus = classification.StatusManualReview
		s.FinalNote = "confidence below confirmation threshold"
	case s.NCMMode == "determine":
		s.FinalStatus = classification.StatusDetermined
	default:
		s.FinalStatus = classification.StatusConfirmed
	}

	// reconciliation makes no LLM call of its own; clear whatever the
	// previous node left so this step's audit row doesn't carry a stale
	// model id or justification that isn't actually its own.
	s.LastModelID = ""
	s.LastJustification = ""
	return s, nil
}

// citationsGroundedInEvidence checks that the NCM/CEST justification
// text actually references at least one of the evidence fragments the
// toolbox returned, a cheap proxy for "did the model cite something it
// was actually given" without re-running the LLM.
func citationsGroundedInEvidence(s State) bool {
	if len(s.Evidence) == 0 {
		return s.NCMJustification == "" && s.CESTJustification == ""
	}
	haystack := strings.ToLower(s.NCMJustification + " " + s.CESTJustification)
	for _, e := range s.Evidence {
		if e.SourceLocator == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(string(e.SourceKind))) {
			return true
		}
	}
	// fall back to a loose check: any evidence excerpt word appearing in
	// the justification is accepted as grounding.
	for _, e := range s.Evidence {
		for _, word := range strings.Fields(strings.ToLower(e.Excerpt)) {
			if len(word) > 4 && strings.Contains(haystack, word) {
				return true
			}
		}
	}
	return false
}
