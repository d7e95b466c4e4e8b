package evaluator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Stacking Evaluator — the hot path.
//
// Given an HTS code, country, value, import date and optional material
// composition, produce the ordered filing lines and the stacked duty
// breakdown. The evaluator is a pure function of the rate store at read
// time: data gaps and temporal gaps surface as diagnostics, never as
// panics; database errors fail fast.
// ──────────────────────────────────────────────────────────────────────

// InputError is a caller mistake (missing field, bad value). The API
// layer maps it to MISSING_INPUT.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// Evaluator computes filing lines and duty breakdowns.
type Evaluator struct {
	store Store
}

func New(store Store) *Evaluator {
	return &Evaluator{store: store}
}

// plannedLine is a filing line before duty math has run. The duty pass
// fixes the reciprocal line's value (its base is only known then).
type plannedLine struct {
	program     models.TariffProgram
	action      models.LineAction
	code        string
	value       float64
	rate        float64
	material    string
	splitType   models.SplitType
	fallback    bool // content value unknown, penalty base
	groupRate   bool // allow country/group ProgramRate override in duty math
	sourceDoc   string
	massKG      *float64
	isReciprocalBase bool // line value tracks the remaining-value base
}

// materialContent is the resolved composition for one declared material.
type materialContent struct {
	value float64
	known bool
	mass  *float64
}

// Evaluate runs the full stacking protocol.
func (e *Evaluator) Evaluate(ctx context.Context, req models.EvaluationRequest) (*models.EvaluationResult, error) {
	hts := models.NormalizeHTS(req.HTSCode)
	if len(hts) < 8 {
		return nil, &InputError{Msg: fmt.Sprintf("hts_code must have at least 8 digits, got %q", req.HTSCode)}
	}
	hts8 := hts[:8]
	hts10 := ""
	if len(hts) >= 10 {
		hts10 = hts[:10]
	}
	if req.Country == "" {
		return nil, &InputError{Msg: "country is required"}
	}
	if req.ProductValue <= 0 {
		return nil, &InputError{Msg: "product_value must be positive"}
	}

	date := models.Today()
	if req.ImportDate != "" {
		var err error
		date, err = models.ParseDate(req.ImportDate)
		if err != nil {
			return nil, &InputError{Msg: err.Error()}
		}
	}

	country, err := e.store.CountryCode(ctx, req.Country)
	if err != nil {
		return nil, err
	}
	if country == "" {
		return nil, &InputError{Msg: fmt.Sprintf("unknown country %q", req.Country)}
	}
	group, err := e.store.GroupForCountry(ctx, country)
	if err != nil {
		return nil, err
	}

	contents, err := resolveMaterials(req.Materials, req.ProductValue)
	if err != nil {
		return nil, err
	}

	res := &models.EvaluationResult{
		HTSCode:    hts,
		Country:    country,
		ImportDate: date,
		Flags:      []string{},
		Unstacking: models.Unstacking{ContentDeductions: map[string]float64{}},
	}

	// Step 1: program discovery.
	programs, err := e.discoverPrograms(ctx, res, hts8, hts10, country, group, date)
	if err != nil {
		return nil, err
	}
	if len(programs) == 0 {
		res.Applies = false
		res.FilingLines = []models.FilingLine{}
		res.Breakdown = []models.BreakdownItem{}
		res.Decisions = append(res.Decisions, models.Decision{
			Step:     "program_discovery",
			Decision: "no_programs",
			Reason:   fmt.Sprintf("no program covers hts=%s country=%s at %s", hts8, country, date),
		})
		res.Flags = append(res.Flags, "no_applicable_programs")
		return res, nil
	}

	// Step 2: per-program decision loop in filing-sequence order.
	var lines []plannedLine
	for _, sel := range programs {
		planned, err := e.decideProgram(ctx, res, sel, hts8, hts10, country, group, date, req.ProductValue, contents, lines)
		if err != nil {
			return nil, err
		}
		lines = append(lines, planned...)
	}

	// Steps 4–5: duty math in calculation-sequence order.
	e.calculateDuties(ctx, res, lines, hts8, country, group, date, req.ProductValue)

	// Step 6: emit filing lines in filing order with entry sequence.
	res.Applies = true
	res.FilingLines = make([]models.FilingLine, 0, len(lines))
	for i, ln := range lines {
		res.FilingLines = append(res.FilingLines, models.FilingLine{
			Sequence:           i + 1,
			ProgramID:          ln.program.ID,
			ProgramName:        ln.program.Name,
			Action:             ln.action,
			Chapter99Code:      ln.code,
			BaseHTSCode:        hts,
			LineValue:          round2(ln.value),
			Material:           ln.material,
			MaterialQuantityKG: ln.massKG,
			SplitType:          ln.splitType,
			DutyRate:           ln.rate,
		})
	}
	return res, nil
}

// selectedProgram pairs a program with its inclusion lookup results.
type selectedProgram struct {
	program models.TariffProgram
	rateRow *models.RateRow             // hts_lookup hit (301 family)
	matRule *models.Section232Material  // material_composition hit
}

// discoverPrograms selects programs whose country scope, applicability
// window and HTS-inclusion predicate all match, sorted by filing
// sequence.
func (e *Evaluator) discoverPrograms(ctx context.Context, res *models.EvaluationResult, hts8, hts10, country, group string, date models.Date) ([]selectedProgram, error) {
	catalog, err := e.store.Programs(ctx)
	if err != nil {
		return nil, err
	}

	var selected []selectedProgram
	for _, p := range catalog {
		if !p.ActiveOn(date) || !p.ScopeMatches(country, group) {
			continue
		}
		switch p.CheckType {
		case models.CheckHTSLookup:
			if p.ConditionHandler == models.HandlerMaterialComposition {
				rule, err := e.materialRuleFor(ctx, p, hts8, hts10, date)
				if err != nil {
					return nil, err
				}
				if rule == nil {
					continue
				}
				selected = append(selected, selectedProgram{program: p, matRule: rule})
				continue
			}
			row, err := e.store.RateAsOf(ctx, p.ID, models.SubjectKeys{HTS8: hts8, HTS10: hts10, Country: country, CountryGroup: group}, date)
			if err != nil {
				return nil, err
			}
			if row == nil {
				continue
			}
			selected = append(selected, selectedProgram{program: p, rateRow: row})
		case models.CheckAlways:
			selected = append(selected, selectedProgram{program: p})
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].program.FilingSequence < selected[j].program.FilingSequence
	})
	for _, s := range selected {
		res.Decisions = append(res.Decisions, models.Decision{
			Step:      "program_discovery",
			ProgramID: s.program.ID,
			Decision:  "selected",
		})
	}
	return selected, nil
}

// materialRuleFor finds the Section 232 material row for the program's
// content key, preferring an HTS-10 match over HTS-8.
func (e *Evaluator) materialRuleFor(ctx context.Context, p models.TariffProgram, hts8, hts10 string, date models.Date) (*models.Section232Material, error) {
	dr, err := e.store.DutyRule(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if dr == nil || dr.ContentKey == "" {
		return nil, nil
	}
	rules, err := e.store.MaterialRules(ctx, hts8, hts10, date)
	if err != nil {
		return nil, err
	}
	var found *models.Section232Material
	for i := range rules {
		r := rules[i]
		if r.Material != dr.ContentKey {
			continue
		}
		if hts10 != "" && r.HTS10 == hts10 {
			return &r, nil
		}
		if found == nil {
			found = &r
		}
	}
	return found, nil
}

// decideProgram runs the inclusion/exclusion/condition-handler step for
// one selected program and returns the planned filing line(s).
func (e *Evaluator) decideProgram(ctx context.Context, res *models.EvaluationResult, sel selectedProgram, hts8, hts10, country, group string, date models.Date, productValue float64, contents map[string]materialContent, prior []plannedLine) ([]plannedLine, error) {
	p := sel.program

	switch p.ConditionHandler {
	case models.HandlerMaterialComposition:
		return e.decideMaterial(res, sel, productValue, contents)

	case models.HandlerDependency:
		return e.decideDependent(ctx, res, sel, hts8, country, group, date, productValue, contents, prior)

	default: // HandlerNone
		if sel.rateRow != nil {
			row := sel.rateRow
			if row.Role == models.RoleExclude {
				// Exclusion wins: its code replaces the impose code, the
				// rate drops to zero, but the line is still filed.
				res.Decisions = append(res.Decisions, models.Decision{
					Step: "exclusion", ProgramID: p.ID, Decision: "excluded",
					Reason: "exclusion window covers import date", SourceDoc: row.SourceDocumentID,
				})
				return []plannedLine{{
					program: p, action: models.ActionExclude, code: row.Chapter99Code,
					value: productValue, rate: 0, sourceDoc: row.SourceDocumentID,
				}}, nil
			}
			res.Decisions = append(res.Decisions, models.Decision{
				Step: "inclusion", ProgramID: p.ID, Decision: "apply",
				SourceDoc: row.SourceDocumentID,
			})
			return []plannedLine{{
				program: p, action: models.ActionApply, code: row.Chapter99Code,
				value: productValue, rate: row.RateValue(), sourceDoc: row.SourceDocumentID,
			}}, nil
		}

		// check_type=always with no inclusion table: code and rate come
		// from the program's country/group rate record.
		code, rate, src, err := e.alwaysRate(ctx, p.ID, country, group, date)
		if err != nil {
			return nil, err
		}
		if code == "" {
			res.Decisions = append(res.Decisions, models.Decision{
				Step: "inclusion", ProgramID: p.ID, Decision: "skip",
				Reason: fmt.Sprintf("no rate record for %s/%s", country, group),
			})
			res.Flags = append(res.Flags, "skipped_"+p.ID)
			return nil, nil
		}
		res.Decisions = append(res.Decisions, models.Decision{
			Step: "inclusion", ProgramID: p.ID, Decision: "apply", SourceDoc: src,
		})
		return []plannedLine{{
			program: p, action: models.ActionApply, code: code,
			value: productValue, rate: rate, groupRate: true, sourceDoc: src,
		}}, nil
	}
}

// alwaysRate resolves the Chapter-99 code and rate for an always-on
// program: country-specific record first, then country group.
func (e *Evaluator) alwaysRate(ctx context.Context, programID, country, group string, date models.Date) (code string, rate float64, sourceDoc string, err error) {
	for _, key := range []string{country, group} {
		if key == "" {
			continue
		}
		pr, err := e.store.ProgramRate(ctx, programID, key, date)
		if err != nil {
			return "", 0, "", err
		}
		if pr != nil {
			r := 0.0
			if pr.Rate != nil {
				r = *pr.Rate
			}
			return pr.Chapter99Code, r, "", nil
		}
	}
	row, err := e.store.RateAsOf(ctx, programID, models.SubjectKeys{Country: country, CountryGroup: group}, date)
	if err != nil {
		return "", 0, "", err
	}
	if row == nil {
		return "", 0, "", nil
	}
	return row.Chapter99Code, row.RateValue(), row.SourceDocumentID, nil
}

// decideMaterial runs the material_composition handler: threshold
// check, claim-vs-disclaim, and split line pairs.
func (e *Evaluator) decideMaterial(res *models.EvaluationResult, sel selectedProgram, productValue float64, contents map[string]materialContent) ([]plannedLine, error) {
	p := sel.program
	rule := sel.matRule
	m := rule.Material

	content, declared := contents[m]

	// No usable content value: fall back to the full product value as a
	// penalty base and flag it, rather than failing the call.
	if !declared || !content.known {
		res.Flags = append(res.Flags, "fallback_applied_for_"+m)
		res.Decisions = append(res.Decisions, models.Decision{
			Step: "condition", ProgramID: p.ID, Decision: "claim",
			Reason: "material value unknown, falling back to product value",
		})
		return []plannedLine{{
			program: p, action: models.ActionClaim, code: rule.ClaimCode,
			value: productValue, rate: rule.Rate, material: m,
			fallback: true, massKG: content.mass,
		}}, nil
	}

	contentPct := content.value / productValue * 100

	if rule.MinPercent > 0 && contentPct < rule.MinPercent {
		res.Decisions = append(res.Decisions, models.Decision{
			Step: "condition", ProgramID: p.ID, Decision: "disclaim",
			Reason: fmt.Sprintf("content %.2f%% below threshold %.2f%%", contentPct, rule.MinPercent),
		})
		if p.DisclaimBehavior == models.DisclaimOmit {
			return nil, nil
		}
		return []plannedLine{{
			program: p, action: models.ActionDisclaim, code: rule.DisclaimCode,
			value: productValue, rate: 0, material: m, massKG: content.mass,
		}}, nil
	}

	split := false
	switch rule.SplitPolicy {
	case models.SplitIfAnyContent:
		split = content.value > 0 && content.value < productValue
	case models.SplitIfAboveThreshold:
		split = contentPct >= rule.SplitThresholdPct && content.value < productValue
	}

	res.Decisions = append(res.Decisions, models.Decision{
		Step: "condition", ProgramID: p.ID, Decision: "claim",
		Reason: fmt.Sprintf("content %.2f%% of value", contentPct),
	})

	if !split {
		return []plannedLine{{
			program: p, action: models.ActionClaim, code: rule.ClaimCode,
			value: content.value, rate: rule.Rate, material: m, massKG: content.mass,
		}}, nil
	}

	// Split line pair: disclaim covers the non-material portion, claim
	// covers the content portion. Disclaim files first.
	return []plannedLine{
		{
			program: p, action: models.ActionDisclaim, code: rule.DisclaimCode,
			value: productValue - content.value, rate: 0, material: m,
			splitType: models.SplitNonMaterialContent,
		},
		{
			program: p, action: models.ActionClaim, code: rule.ClaimCode,
			value: content.value, rate: rule.Rate, material: m,
			splitType: models.SplitMaterialContent, massKG: content.mass,
		},
	}, nil
}

// decideDependent handles programs whose outcome depends on an earlier
// program in the same run (IEEPA Reciprocal after Section 232).
func (e *Evaluator) decideDependent(ctx context.Context, res *models.EvaluationResult, sel selectedProgram, hts8, country, group string, date models.Date, productValue float64, contents map[string]materialContent, prior []plannedLine) ([]plannedLine, error) {
	p := sel.program

	variant, reason, err := e.selectVariant(ctx, hts8, productValue, contents, prior)
	if err != nil {
		return nil, err
	}
	res.Decisions = append(res.Decisions, models.Decision{
		Step: "variant", ProgramID: p.ID, Decision: variant, Reason: reason,
	})

	row, err := e.store.RateAsOf(ctx, p.ID, models.SubjectKeys{Country: country, CountryGroup: group, Variant: variant}, date)
	if err != nil {
		return nil, err
	}
	if row != nil {
		rate := row.RateValue()
		if strings.HasSuffix(variant, "_exempt") {
			rate = 0
		}
		return []plannedLine{{
			program: p, action: models.ActionApply, code: row.Chapter99Code,
			value: productValue, rate: rate, groupRate: variant == "standard",
			sourceDoc: row.SourceDocumentID, isReciprocalBase: true,
		}}, nil
	}

	if variant == "standard" {
		code, rate, src, err := e.alwaysRate(ctx, p.ID, country, group, date)
		if err != nil {
			return nil, err
		}
		if code != "" {
			return []plannedLine{{
				program: p, action: models.ActionApply, code: code,
				value: productValue, rate: rate, groupRate: true,
				sourceDoc: src, isReciprocalBase: true,
			}}, nil
		}
	}

	res.Decisions = append(res.Decisions, models.Decision{
		Step: "output_resolution", ProgramID: p.ID, Decision: "skip",
		Reason: fmt.Sprintf("no %s rate row for country=%s group=%s variant=%s", p.ID, country, group, variant),
	})
	res.Flags = append(res.Flags, "skipped_"+p.ID)
	return nil, nil
}

// selectVariant picks the IEEPA Reciprocal variant from flags already
// computed in this run.
func (e *Evaluator) selectVariant(ctx context.Context, hts8 string, productValue float64, contents map[string]materialContent, prior []plannedLine) (string, string, error) {
	listed, err := e.store.AnnexIIListed(ctx, hts8)
	if err != nil {
		return "", "", err
	}
	if listed {
		return "annex_ii_exempt", "hts on annex II list", nil
	}

	// Planned 232 claims: fallback claims stand in for full product
	// value, so they exhaust the reciprocal base entirely.
	var claimed float64
	for _, ln := range prior {
		if ln.action != models.ActionClaim {
			continue
		}
		if ln.fallback {
			claimed = productValue
			break
		}
		claimed += ln.value
	}
	if claimed >= productValue {
		return "section_232_exempt", "section 232 content covers full product value", nil
	}

	if us, ok := contents["us_content"]; ok && us.known && us.value >= 0.20*productValue {
		return "us_content_exempt", "declared US content at least 20% of value", nil
	}
	return "standard", "", nil
}

// resolveMaterials converts the declared composition into content
// values. Explicit value wins, then percent of product value; a
// mass-only declaration leaves the value unknown (fallback path).
func resolveMaterials(inputs map[string]models.MaterialInput, productValue float64) (map[string]materialContent, error) {
	contents := make(map[string]materialContent, len(inputs))
	var sum float64
	for name, in := range inputs {
		mc := materialContent{mass: in.MassKG}
		switch {
		case in.Value != nil:
			if *in.Value < 0 {
				return nil, &InputError{Msg: fmt.Sprintf("material %s: value must be non-negative", name)}
			}
			mc.value = *in.Value
			mc.known = true
		case in.Percent != nil:
			if *in.Percent < 0 || *in.Percent > 1 {
				return nil, &InputError{Msg: fmt.Sprintf("material %s: percent must be within 0..1", name)}
			}
			mc.value = *in.Percent * productValue
			mc.known = true
		}
		if mc.known {
			sum += mc.value
		}
		contents[name] = mc
	}
	if sum > productValue+1e-9 {
		return nil, &InputError{Msg: fmt.Sprintf("declared material value %.2f exceeds product value %.2f", sum, productValue)}
	}
	return contents, nil
}

func round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
