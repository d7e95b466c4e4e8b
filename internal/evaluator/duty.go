package evaluator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// calculateDuties runs the duty math over the planned lines in
// calculation-sequence order, which may differ from filing order (232
// content deductions must land before IEEPA Reciprocal reads the
// remaining value).
func (e *Evaluator) calculateDuties(ctx context.Context, res *models.EvaluationResult, lines []plannedLine, hts8, country, group string, date models.Date, productValue float64) {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lines[order[a]].program.CalcSequence < lines[order[b]].program.CalcSequence
	})

	remaining := productValue
	total := 0.0
	processed := map[string]bool{}
	deductions := map[string]float64{}
	reciprocalBase := -1.0

	for _, idx := range order {
		ln := &lines[idx]
		if ln.action == models.ActionDisclaim || ln.action == models.ActionSkip {
			continue
		}

		rule := e.dutyRuleFor(ctx, ln.program.ID)

		base := productValue
		source := models.SourceProductValue
		switch rule.BaseOn {
		case models.BaseRemainingValue:
			base = remaining
			source = models.SourceRemainingValue
			if ln.isReciprocalBase {
				reciprocalBase = base
				ln.value = base
			}
		case models.BaseContentValue:
			m := ln.material
			if m == "" {
				m = rule.ContentKey
			}
			switch {
			case processed[m]:
				// Already taxed in this run (split pair partner or a
				// duplicate rule): contributes nothing more.
				base = 0
				source = models.SourceContentValue
			case ln.fallback && rule.FallbackBaseOn == models.BaseProductValue:
				base = productValue
				source = models.SourceFallbackToProduct
			default:
				base = ln.value
				source = models.SourceContentValue
			}
			if !processed[m] {
				processed[m] = true
				if rule.BaseEffect == models.EffectSubtractFromRemaining {
					deductions[m] = base
					remaining -= base
					if remaining < 0 {
						remaining = 0
					}
				}
			}
		}

		rate, rateSource := e.resolveRate(ctx, ln, hts8, country, group, date)
		ln.rate = rate

		amount := base * rate
		if rule.CalculationType == models.CalcCompound {
			amount = (base + total) * rate
		}
		total += amount

		res.Breakdown = append(res.Breakdown, models.BreakdownItem{
			ProgramID:   ln.program.ID,
			Material:    ln.material,
			BaseValue:   round2(base),
			ValueSource: source,
			Rate:        rate,
			RateSource:  rateSource,
			Amount:      round2(amount),
		})
	}

	if reciprocalBase < 0 {
		reciprocalBase = remaining
	}
	var contentTotal float64
	for _, v := range deductions {
		contentTotal += v
	}
	res.TotalDutyAmount = round2(total)
	res.EffectiveRate = total / productValue
	res.TotalDutyPercent = res.EffectiveRate * 100
	res.Unstacking = models.Unstacking{
		MaterialContentValue: round2(contentTotal),
		ContentDeductions:    deductions,
		RemainingValue:       round2(remaining),
		ReciprocalBase:       round2(reciprocalBase),
	}
	if res.Breakdown == nil {
		res.Breakdown = []models.BreakdownItem{}
	}
}

// dutyRuleFor fetches the program's duty rule, defaulting to an
// additive product-value rule when none is configured.
func (e *Evaluator) dutyRuleFor(ctx context.Context, programID string) models.DutyRule {
	dr, err := e.store.DutyRule(ctx, programID)
	if err != nil || dr == nil {
		return models.DutyRule{
			ProgramID:       programID,
			CalculationType: models.CalcAdditive,
			BaseOn:          models.BaseProductValue,
		}
	}
	return *dr
}

// resolveRate determines the effective rate for a line. Country-group
// rate records (including formulas such as "15% - MFN") override the
// line's looked-up rate for programs that allow it; Section 301 always
// uses the HTS-specific rate from its own table.
func (e *Evaluator) resolveRate(ctx context.Context, ln *plannedLine, hts8, country, group string, date models.Date) (float64, string) {
	if ln.action == models.ActionExclude {
		return 0, "exclusion"
	}
	if ln.program.ID == "section_301" || !ln.groupRate {
		return ln.rate, "hts_specific"
	}

	for _, key := range []string{country, group} {
		if key == "" {
			continue
		}
		pr, err := e.store.ProgramRate(ctx, ln.program.ID, key, date)
		if err != nil || pr == nil {
			continue
		}
		if pr.Formula != "" {
			mfn, ok, err := e.store.MFNRate(ctx, hts8, date)
			if err == nil && ok {
				if rate, src, parsed := evalFormula(pr.Formula, mfn); parsed {
					return rate, src
				}
			}
			continue
		}
		if pr.Rate != nil {
			src := "country_" + key
			if key == group {
				src = "country_group_" + key
			}
			return *pr.Rate, src
		}
	}
	return ln.rate, "hts_specific"
}

var formulaPattern = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*%\s*-\s*MFN\s*$`)

// evalFormula evaluates the "N% - MFN" ceiling formula: the program
// rate is N% reduced by the MFN base rate, floored at zero.
func evalFormula(formula string, mfn float64) (rate float64, source string, ok bool) {
	m := formulaPattern.FindStringSubmatch(formula)
	if m == nil {
		return 0, "", false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", false
	}
	rate = pct/100 - mfn
	if rate < 0 {
		rate = 0
	}
	label := strings.ReplaceAll(strings.TrimSuffix(strings.TrimSuffix(m[1], ".0"), ".00"), ".", "_")
	return rate, fmt.Sprintf("formula_%s_pct_minus_mfn", label), true
}
