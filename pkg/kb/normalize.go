package kb

import (
	"fmt"
	"strings"
)

// NormalizeNCM strips punctuation and left-pads/validates an NCM code to
// the canonical 8-digit form (spec §4.1).
func NormalizeNCM(raw string) (string, error) {
	digits := onlyDigits(raw)
	if len(digits) == 0 {
		return "", fmt.Errorf("ncm: empty code")
	}
	if len(digits) > 8 {
		return "", fmt.Errorf("ncm: %q has more than 8 digits", raw)
	}
	for len(digits) < 8 {
		digits = "0" + digits
	}
	return digits, nil
}

// NormalizeCEST decomposes a CEST given in dotted form (XX.YYY.ZZ) or as
// a bare string into its canonical 7-digit form.
func NormalizeCEST(raw string) (string, error) {
	digits := onlyDigits(raw)
	if len(digits) != 7 {
		return "", fmt.Errorf("cest: %q does not decompose to 7 digits (got %d)", raw, len(digits))
	}
	return digits, nil
}

// Segment prefixes of a normalised 8-digit NCM, used to build the
// in-memory hierarchy graph and for fusion-time specificity scoring.
func NCMChapter(ncm string) string     { return prefix(ncm, 2) }
func NCMPosition(ncm string) string    { return prefix(ncm, 4) }
func NCMSubposition(ncm string) string { return prefix(ncm, 6) }

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// preferVigente dedupes two CEST rules with the same CEST code drawn
// from different sources (e.g. Convênio 142 vs a
// state's own regional table), keeping the one whose Situation is
// vigente; if both are vigente it keeps the one with the later
// ValidityStart (spec §4.1: "CEST-RO rows reconciled against Convênio
// 142, preferring situation='vigente'").
func preferVigente(a, b CESTRule) CESTRule {
	if a.Situation == SituationVigente && b.Situation != SituationVigente {
		return a
	}
	if b.Situation == SituationVigente && a.Situation != SituationVigente {
		return b
	}
	if b.ValidityStart.After(a.ValidityStart) {
		return b
	}
	return a
}
