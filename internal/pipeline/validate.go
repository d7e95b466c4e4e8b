package pipeline

import (
	"fmt"
	"strings"

	"github.com/rawblock/tariff-engine/internal/resolver"
	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Validate stage: confirm the candidate against the document text.
// Each failure becomes a block reason; any failure routes the
// candidate to the review queue instead of the commit engine.
// ──────────────────────────────────────────────────────────────────────

// Validate checks one extraction against the rendered document text.
// An empty result is a pass.
func Validate(ext Extraction, renderedText string) []string {
	var reasons []string
	cand := ext.Candidate

	hts := cand.Keys.HTS10
	if hts == "" {
		hts = cand.Keys.HTS8
	}
	if !textContainsHTS(renderedText, hts) {
		reasons = append(reasons, fmt.Sprintf("cited HTS %s not found in document text", hts))
	}

	if cand.Rate != nil && cand.Role == models.RoleImpose {
		if !textContainsRate(renderedText, *cand.Rate) {
			reasons = append(reasons, fmt.Sprintf("cited rate %.4g not found in document text", *cand.Rate))
		}
	}

	if cand.EffectiveStart.IsZero() {
		reasons = append(reasons, "effective date not parseable")
	}

	if resolver.Resolve(cand.Chapter99Code) == nil {
		reasons = append(reasons, fmt.Sprintf("chapter 99 code %s did not resolve", cand.Chapter99Code))
	}

	return reasons
}

// textContainsHTS matches the code with or without dots.
func textContainsHTS(text, hts string) bool {
	if hts == "" {
		return false
	}
	if strings.Contains(models.NormalizeHTS(text), hts) {
		return true
	}
	return strings.Contains(text, dotted(hts))
}

func dotted(hts string) string {
	if len(hts) < 8 {
		return hts
	}
	d := hts[:4] + "." + hts[4:6] + "." + hts[6:8]
	if len(hts) > 8 {
		d += "." + hts[8:]
	}
	return d
}

// textContainsRate looks for the percentage in its common printed
// forms ("25%", "25 percent", "25.0 percent").
func textContainsRate(text string, rate float64) bool {
	pct := rate * 100
	forms := []string{
		fmt.Sprintf("%g%%", pct),
		fmt.Sprintf("%g %%", pct),
		fmt.Sprintf("%g percent", pct),
		fmt.Sprintf("%.1f percent", pct),
		fmt.Sprintf("%.1f%%", pct),
	}
	lower := strings.ToLower(text)
	for _, f := range forms {
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
