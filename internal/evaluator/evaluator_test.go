package evaluator

import (
	"context"
	"math"
	"testing"

	"github.com/rawblock/tariff-engine/internal/refdata"
	"github.com/rawblock/tariff-engine/pkg/models"
)

func value(v float64) models.MaterialInput  { return models.MaterialInput{Value: &v} }
func percent(p float64) models.MaterialInput { return models.MaterialInput{Percent: &p} }

func seedEvaluator() *Evaluator {
	return New(refdata.Seed())
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func findLine(t *testing.T, lines []models.FilingLine, program string, action models.LineAction) models.FilingLine {
	t.Helper()
	for _, ln := range lines {
		if ln.ProgramID == program && ln.Action == action {
			return ln
		}
	}
	t.Fatalf("no filing line for program=%s action=%s in %+v", program, action, lines)
	return models.FilingLine{}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// S1: the canonical USB-C cable from China. Nine filing lines, three
// 232 split pairs, reciprocal on the residual 5000.
func TestEvaluate_USBCableFromChina(t *testing.T) {
	e := seedEvaluator()
	res, err := e.Evaluate(context.Background(), models.EvaluationRequest{
		HTSCode:      "8544.42.9090",
		Country:      "China",
		ProductValue: 10000,
		ImportDate:   "2025-12-15",
		Materials: map[string]models.MaterialInput{
			"copper":   value(3000),
			"steel":    value(1000),
			"aluminum": value(1000),
		},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !res.Applies {
		t.Fatal("expected applies=true")
	}
	if len(res.FilingLines) != 9 {
		t.Fatalf("expected 9 filing lines, got %d: %+v", len(res.FilingLines), res.FilingLines)
	}

	wantCodes := []struct {
		program string
		action  models.LineAction
		code    string
		rate    float64
	}{
		{"section_301", models.ActionApply, "9903.88.03", 0.25},
		{"ieepa_fentanyl", models.ActionApply, "9903.01.24", 0.10},
		{"section_232_copper", models.ActionDisclaim, "9903.78.02", 0},
		{"section_232_copper", models.ActionClaim, "9903.78.01", 0.50},
		{"section_232_steel", models.ActionDisclaim, "9903.80.02", 0},
		{"section_232_steel", models.ActionClaim, "9903.80.01", 0.50},
		{"section_232_aluminum", models.ActionDisclaim, "9903.85.09", 0},
		{"section_232_aluminum", models.ActionClaim, "9903.85.08", 0.25},
		{"ieepa_reciprocal", models.ActionApply, "9903.01.33", 0.10},
	}
	for i, want := range wantCodes {
		got := res.FilingLines[i]
		if got.ProgramID != want.program || got.Action != want.action || got.Chapter99Code != want.code {
			t.Errorf("line %d = %s/%s/%s, want %s/%s/%s",
				i+1, got.ProgramID, got.Action, got.Chapter99Code, want.program, want.action, want.code)
		}
		if !almostEqual(got.DutyRate, want.rate, 1e-9) {
			t.Errorf("line %d rate = %v, want %v", i+1, got.DutyRate, want.rate)
		}
	}

	// Split pair values: disclaim carries product minus content.
	if ln := findLine(t, res.FilingLines, "section_232_copper", models.ActionDisclaim); ln.LineValue != 7000 {
		t.Errorf("copper disclaim value = %v, want 7000", ln.LineValue)
	}
	if ln := findLine(t, res.FilingLines, "section_232_copper", models.ActionClaim); ln.LineValue != 3000 {
		t.Errorf("copper claim value = %v, want 3000", ln.LineValue)
	}
	if ln := findLine(t, res.FilingLines, "ieepa_reciprocal", models.ActionApply); ln.LineValue != 5000 {
		t.Errorf("reciprocal line value = %v, want 5000", ln.LineValue)
	}

	if !almostEqual(res.TotalDutyAmount, 6250.00, 1e-6) {
		t.Errorf("total duty = %v, want 6250.00", res.TotalDutyAmount)
	}
	if !almostEqual(res.EffectiveRate, 0.625, 1e-9) {
		t.Errorf("effective rate = %v, want 0.625", res.EffectiveRate)
	}

	u := res.Unstacking
	if u.ContentDeductions["copper"] != 3000 || u.ContentDeductions["steel"] != 1000 || u.ContentDeductions["aluminum"] != 1000 {
		t.Errorf("content deductions = %+v", u.ContentDeductions)
	}
	if u.RemainingValue != 5000 || u.ReciprocalBase != 5000 {
		t.Errorf("remaining = %v reciprocal base = %v, want 5000/5000", u.RemainingValue, u.ReciprocalBase)
	}
	if u.MaterialContentValue != 5000 {
		t.Errorf("material content value = %v, want 5000", u.MaterialContentValue)
	}

	// Invariant: effective_rate x product_value == total duty.
	if !almostEqual(res.EffectiveRate*10000, res.TotalDutyAmount, 1e-6*10000) {
		t.Errorf("effective rate inconsistent with total duty")
	}
}

// S2: exclusion wins over impose within the exclusion window, and the
// reciprocal variant resolves to annex_ii_exempt.
func TestEvaluate_ExclusionWins(t *testing.T) {
	e := seedEvaluator()
	res, err := e.Evaluate(context.Background(), models.EvaluationRequest{
		HTSCode:      "8473.30.5100",
		Country:      "China",
		ProductValue: 842.40,
		ImportDate:   "2024-10-01",
		Materials:    map[string]models.MaterialInput{"aluminum": value(126.36)},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	s301 := findLine(t, res.FilingLines, "section_301", models.ActionExclude)
	if s301.Chapter99Code != "9903.88.69" {
		t.Errorf("section 301 code = %s, want exclusion 9903.88.69", s301.Chapter99Code)
	}
	if s301.DutyRate != 0 {
		t.Errorf("excluded line rate = %v, want 0", s301.DutyRate)
	}

	fent := findLine(t, res.FilingLines, "ieepa_fentanyl", models.ActionApply)
	if fent.Chapter99Code != "9903.01.24" {
		t.Errorf("fentanyl code = %s, want 9903.01.24", fent.Chapter99Code)
	}

	rec := findLine(t, res.FilingLines, "ieepa_reciprocal", models.ActionApply)
	if rec.Chapter99Code != "9903.01.32" {
		t.Errorf("reciprocal code = %s, want annex II exempt 9903.01.32", rec.Chapter99Code)
	}
	if rec.DutyRate != 0 {
		t.Errorf("annex II exempt rate = %v, want 0", rec.DutyRate)
	}

	alum := findLine(t, res.FilingLines, "section_232_aluminum", models.ActionClaim)
	if alum.Chapter99Code != "9903.85.08" {
		t.Errorf("aluminum claim code = %s, want 9903.85.08", alum.Chapter99Code)
	}
	if !almostEqual(alum.LineValue, 126.36, 1e-9) {
		t.Errorf("aluminum claim value = %v, want 126.36", alum.LineValue)
	}
}

// S3: same HTS after the exclusion expiry — the impose row answers.
func TestEvaluate_RolePrecedenceOutsideExclusionWindow(t *testing.T) {
	e := seedEvaluator()
	res, err := e.Evaluate(context.Background(), models.EvaluationRequest{
		HTSCode:      "8473.30.5100",
		Country:      "China",
		ProductValue: 842.40,
		ImportDate:   "2026-01-15",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	s301 := findLine(t, res.FilingLines, "section_301", models.ActionApply)
	if s301.Chapter99Code != "9903.88.03" {
		t.Errorf("section 301 code = %s, want impose 9903.88.03", s301.Chapter99Code)
	}
	if s301.DutyRate <= 0 {
		t.Errorf("impose rate = %v, want positive", s301.DutyRate)
	}
}

// S4: Germany resolves through group EU and the 15%-minus-MFN formula.
func TestEvaluate_EUFormulaCeiling(t *testing.T) {
	e := seedEvaluator()
	res, err := e.Evaluate(context.Background(), models.EvaluationRequest{
		HTSCode:      "9018.90.8000",
		Country:      "Germany",
		ProductValue: 1000,
		ImportDate:   "2025-12-15",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	var item *models.BreakdownItem
	for i := range res.Breakdown {
		if res.Breakdown[i].ProgramID == "ieepa_reciprocal" {
			item = &res.Breakdown[i]
		}
	}
	if item == nil {
		t.Fatalf("no reciprocal breakdown entry: %+v", res.Breakdown)
	}
	if !almostEqual(item.Rate, 0.10, 1e-9) {
		t.Errorf("reciprocal rate = %v, want 0.10 (0.15 - MFN 0.05)", item.Rate)
	}
	if item.RateSource != "formula_15_pct_minus_mfn" {
		t.Errorf("rate source = %s, want formula_15_pct_minus_mfn", item.RateSource)
	}
}

// S5: a 232 copper rule with no declared materials falls back to the
// full product value as a penalty base.
func TestEvaluate_FallbackPenalty(t *testing.T) {
	e := seedEvaluator()
	res, err := e.Evaluate(context.Background(), models.EvaluationRequest{
		HTSCode:      "7411.10.1030",
		Country:      "Germany",
		ProductValue: 10000,
		ImportDate:   "2025-12-15",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	var copperLines []models.FilingLine
	for _, ln := range res.FilingLines {
		if ln.ProgramID == "section_232_copper" {
			copperLines = append(copperLines, ln)
		}
	}
	if len(copperLines) != 1 {
		t.Fatalf("expected a single copper line, got %d", len(copperLines))
	}
	if copperLines[0].Action != models.ActionClaim || copperLines[0].LineValue != 10000 {
		t.Errorf("copper line = %+v, want claim on full product value", copperLines[0])
	}
	if !hasFlag(res.Flags, "fallback_applied_for_copper") {
		t.Errorf("flags = %v, want fallback_applied_for_copper", res.Flags)
	}

	var copperItem *models.BreakdownItem
	for i := range res.Breakdown {
		if res.Breakdown[i].ProgramID == "section_232_copper" {
			copperItem = &res.Breakdown[i]
		}
	}
	if copperItem == nil || copperItem.ValueSource != models.SourceFallbackToProduct {
		t.Errorf("copper breakdown = %+v, want fallback_to_product base", copperItem)
	}

	// Full value consumed by 232: reciprocal goes 232-exempt.
	rec := findLine(t, res.FilingLines, "ieepa_reciprocal", models.ActionApply)
	if rec.Chapter99Code != "9903.01.34" || rec.DutyRate != 0 {
		t.Errorf("reciprocal line = %+v, want section_232_exempt 9903.01.34 at 0", rec)
	}
}

func TestEvaluate_ImportDateBoundaries(t *testing.T) {
	e := seedEvaluator()

	// Exclusion window is [2024-01-01, 2025-12-01).
	tests := []struct {
		name       string
		date       string
		wantAction models.LineAction
	}{
		{"Exactly Start In Scope", "2024-01-01", models.ActionExclude},
		{"Day Before End In Scope", "2025-11-30", models.ActionExclude},
		{"Exactly End Out Of Scope", "2025-12-01", models.ActionApply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Evaluate(context.Background(), models.EvaluationRequest{
				HTSCode: "8473.30.5100", Country: "China", ProductValue: 100, ImportDate: tt.date,
			})
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			findLine(t, res.FilingLines, "section_301", tt.wantAction)
		})
	}
}

func TestEvaluate_ContentEqualsProductValue_NoSplit(t *testing.T) {
	e := seedEvaluator()
	res, err := e.Evaluate(context.Background(), models.EvaluationRequest{
		HTSCode:      "7411.10.1030",
		Country:      "Germany",
		ProductValue: 5000,
		ImportDate:   "2025-12-15",
		Materials:    map[string]models.MaterialInput{"copper": value(5000)},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	var copperLines []models.FilingLine
	for _, ln := range res.FilingLines {
		if ln.ProgramID == "section_232_copper" {
			copperLines = append(copperLines, ln)
		}
	}
	if len(copperLines) != 1 || copperLines[0].Action != models.ActionClaim {
		t.Fatalf("expected single claim line for full-content product, got %+v", copperLines)
	}
	if copperLines[0].LineValue != 5000 {
		t.Errorf("claim value = %v, want 5000", copperLines[0].LineValue)
	}
	if hasFlag(res.Flags, "fallback_applied_for_copper") {
		t.Error("explicit content must not trigger the fallback flag")
	}
}

func TestEvaluate_PercentDeclaration(t *testing.T) {
	e := seedEvaluator()
	res, err := e.Evaluate(context.Background(), models.EvaluationRequest{
		HTSCode:      "8544.42.9090",
		Country:      "China",
		ProductValue: 2000,
		ImportDate:   "2025-12-15",
		Materials:    map[string]models.MaterialInput{"copper": percent(0.25)},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	claim := findLine(t, res.FilingLines, "section_232_copper", models.ActionClaim)
	if claim.LineValue != 500 {
		t.Errorf("claim value from percent = %v, want 500", claim.LineValue)
	}
}

func TestEvaluate_InputErrors(t *testing.T) {
	e := seedEvaluator()
	tests := []struct {
		name string
		req  models.EvaluationRequest
	}{
		{"Zero Product Value", models.EvaluationRequest{HTSCode: "8544.42.9090", Country: "China", ProductValue: 0}},
		{"Negative Product Value", models.EvaluationRequest{HTSCode: "8544.42.9090", Country: "China", ProductValue: -5}},
		{"Short HTS", models.EvaluationRequest{HTSCode: "8544", Country: "China", ProductValue: 100}},
		{"Missing Country", models.EvaluationRequest{HTSCode: "8544.42.9090", ProductValue: 100}},
		{"Unknown Country", models.EvaluationRequest{HTSCode: "8544.42.9090", Country: "Atlantis", ProductValue: 100}},
		{"Bad Date", models.EvaluationRequest{HTSCode: "8544.42.9090", Country: "China", ProductValue: 100, ImportDate: "not-a-date"}},
		{
			"Materials Exceed Product Value",
			models.EvaluationRequest{
				HTSCode: "8544.42.9090", Country: "China", ProductValue: 100,
				Materials: map[string]models.MaterialInput{"copper": value(80), "steel": value(50)},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), tt.req)
			var inputErr *InputError
			if err == nil {
				t.Fatal("expected an input error")
			}
			if !asInputError(err, &inputErr) {
				t.Fatalf("expected InputError, got %T: %v", err, err)
			}
		})
	}
}

func asInputError(err error, target **InputError) bool {
	ie, ok := err.(*InputError)
	if ok {
		*target = ie
	}
	return ok
}

// Unknown HTS: no program matches, the result is a diagnostic, not an
// error.
func TestEvaluate_UnknownHTS(t *testing.T) {
	e := seedEvaluator()
	res, err := e.Evaluate(context.Background(), models.EvaluationRequest{
		HTSCode:      "0101.21.0010",
		Country:      "Japan",
		ProductValue: 100,
		ImportDate:   "2025-12-15",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(res.FilingLines) != 0 && res.Applies {
		// Japan still gets IEEPA Reciprocal standard if a rate row
		// exists; with none seeded the call reports no programs or a
		// skip flag.
		for _, ln := range res.FilingLines {
			if ln.ProgramID != "ieepa_reciprocal" {
				t.Errorf("unexpected filing line %+v", ln)
			}
		}
	}
}

func TestEvalFormula(t *testing.T) {
	tests := []struct {
		formula  string
		mfn      float64
		wantRate float64
		wantSrc  string
		wantOK   bool
	}{
		{"15% - MFN", 0.05, 0.10, "formula_15_pct_minus_mfn", true},
		{"15% - MFN", 0.20, 0.0, "formula_15_pct_minus_mfn", true},
		{"7.5% - MFN", 0.025, 0.05, "formula_7_5_pct_minus_mfn", true},
		{"garbage", 0.05, 0, "", false},
	}
	for _, tt := range tests {
		rate, src, ok := evalFormula(tt.formula, tt.mfn)
		if ok != tt.wantOK {
			t.Errorf("evalFormula(%q) ok = %v, want %v", tt.formula, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if !almostEqual(rate, tt.wantRate, 1e-9) || src != tt.wantSrc {
			t.Errorf("evalFormula(%q, %v) = (%v, %s), want (%v, %s)", tt.formula, tt.mfn, rate, src, tt.wantRate, tt.wantSrc)
		}
	}
}
