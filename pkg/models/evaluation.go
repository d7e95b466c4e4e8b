package models

// ──────────────────────────────────────────────────────────────────────
// Stacking evaluator I/O. These shapes are the RPC surface: filing
// lines in entry order, a duty breakdown in calculation order, and an
// unstacking record naming the 232 deductions.
// ──────────────────────────────────────────────────────────────────────

// MaterialInput is the declared composition for one material. Exactly
// one of the shorthand forms is typically present: a bare number in the
// request JSON is a fraction of product value (0..1), an object may
// carry percent and/or value and/or mass.
type MaterialInput struct {
	Percent *float64 `json:"percent,omitempty"` // 0..1 fraction of product value
	Value   *float64 `json:"value,omitempty"`   // explicit content value, same currency as product value
	MassKG  *float64 `json:"mass_kg,omitempty"`
}

// EvaluationRequest is the evaluator call input.
type EvaluationRequest struct {
	HTSCode            string                   `json:"hts_code"`
	Country            string                   `json:"country"`
	ProductValue       float64                  `json:"product_value"`
	ImportDate         string                   `json:"import_date,omitempty"` // ISO date; empty = today
	Materials          map[string]MaterialInput `json:"materials,omitempty"`
	ProductDescription string                   `json:"product_description,omitempty"`
}

// LineAction is what a filing line asserts.
type LineAction string

const (
	ActionApply    LineAction = "apply"
	ActionClaim    LineAction = "claim"
	ActionDisclaim LineAction = "disclaim"
	ActionExclude  LineAction = "exclude"
	ActionSkip     LineAction = "skip"
	ActionPaid     LineAction = "paid"
)

// SplitType labels the halves of a 232 split line pair.
type SplitType string

const (
	SplitMaterialContent    SplitType = "material_content"
	SplitNonMaterialContent SplitType = "non_material_content"
)

// FilingLine is one CBP entry line: a base HTS code paired with a
// Chapter-99 special program code.
type FilingLine struct {
	Sequence           int        `json:"sequence"`
	ProgramID          string     `json:"program_id"`
	ProgramName        string     `json:"program_name"`
	Action             LineAction `json:"action"`
	Chapter99Code      string     `json:"chapter_99_code"`
	BaseHTSCode        string     `json:"base_hts_code"`
	LineValue          float64    `json:"line_value"`
	LineQuantity       *float64   `json:"line_quantity,omitempty"`
	Material           string     `json:"material,omitempty"`
	MaterialQuantityKG *float64   `json:"material_quantity_kg,omitempty"`
	SplitType          SplitType  `json:"split_type,omitempty"`
	DutyRate           float64    `json:"duty_rate"`
}

// ValueSource names where a breakdown entry's base came from.
type ValueSource string

const (
	SourceProductValue      ValueSource = "product_value"
	SourceRemainingValue    ValueSource = "remaining_value"
	SourceContentValue      ValueSource = "content_value"
	SourceFallbackToProduct ValueSource = "fallback_to_product"
)

// BreakdownItem is one duty contribution.
type BreakdownItem struct {
	ProgramID   string      `json:"program_id"`
	Material    string      `json:"material,omitempty"`
	BaseValue   float64     `json:"base_value"`
	ValueSource ValueSource `json:"value_source"`
	Rate        float64     `json:"rate"`
	RateSource  string      `json:"rate_source"` // hts_specific / country_group_EU / formula_15_pct_minus_mfn / ...
	Amount      float64     `json:"amount"`
}

// Unstacking records the 232 deductions and the residual value IEEPA
// Reciprocal applied to.
type Unstacking struct {
	MaterialContentValue float64            `json:"material_content_value"`
	ContentDeductions    map[string]float64 `json:"content_deductions"`
	RemainingValue       float64            `json:"remaining_value"`
	ReciprocalBase       float64            `json:"reciprocal_base"`
}

// Decision is one audit-trail entry of the evaluation run.
type Decision struct {
	Step      string `json:"step"`
	ProgramID string `json:"program_id,omitempty"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
	SourceDoc string `json:"source_doc,omitempty"`
}

// EvaluationResult is the evaluator call output.
type EvaluationResult struct {
	Applies          bool            `json:"applies"`
	HTSCode          string          `json:"hts_code"`
	Country          string          `json:"country"`
	ImportDate       Date            `json:"import_date"`
	FilingLines      []FilingLine    `json:"filing_lines"`
	Breakdown        []BreakdownItem `json:"breakdown"`
	TotalDutyAmount  float64         `json:"total_duty_amount"`
	TotalDutyPercent float64         `json:"total_duty_percent"`
	EffectiveRate    float64         `json:"effective_rate"`
	Unstacking       Unstacking      `json:"unstacking"`
	Decisions        []Decision      `json:"decisions"`
	Flags            []string        `json:"flags"`
}
