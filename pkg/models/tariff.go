package models

import "strings"

// ──────────────────────────────────────────────────────────────────────
// Tariff program catalog and temporal rate rows.
//
// Programs are static configuration: which duties can apply, in what
// filing order, and how each one decides applicability. All numeric
// rates live in temporal RateRows (or ProgramRates for country-group
// overrides) so that every number is traceable to an official document.
// ──────────────────────────────────────────────────────────────────────

// CheckType selects how a program decides HTS inclusion.
type CheckType string

const (
	CheckHTSLookup CheckType = "hts_lookup" // probe the program's inclusion table
	CheckAlways    CheckType = "always"     // included whenever scope/window match
)

// ConditionHandler selects the per-program decision logic.
type ConditionHandler string

const (
	HandlerNone                ConditionHandler = "none"
	HandlerMaterialComposition ConditionHandler = "material_composition"
	HandlerDependency          ConditionHandler = "dependency"
)

// DisclaimBehavior controls whether a non-applying material program
// still files a disclaim line.
type DisclaimBehavior string

const (
	DisclaimRequired DisclaimBehavior = "required"
	DisclaimOmit     DisclaimBehavior = "omit"
	DisclaimNone     DisclaimBehavior = "none"
)

// TariffProgram is one row of the static program catalog.
type TariffProgram struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	CountryScope     string           `json:"countryScope"` // "*", "CN", "CN,HK", or "group:EU"
	CheckType        CheckType        `json:"checkType"`
	ConditionHandler ConditionHandler `json:"conditionHandler"`
	DependsOn        string           `json:"dependsOn,omitempty"` // predecessor program id for HandlerDependency
	FilingSequence   int              `json:"filingSequence"`
	CalcSequence     int              `json:"calcSequence"`
	DisclaimBehavior DisclaimBehavior `json:"disclaimBehavior"`
	EffectiveStart   Date             `json:"effectiveStart"`
	EffectiveEnd     *Date            `json:"effectiveEnd,omitempty"`
}

// ActiveOn reports whether the program's applicability window covers d.
func (p TariffProgram) ActiveOn(d Date) bool {
	return WindowCovers(d, p.EffectiveStart, p.EffectiveEnd)
}

// ScopeMatches reports whether the program applies to the given country
// code and its (possibly empty) country group.
func (p TariffProgram) ScopeMatches(countryCode, group string) bool {
	for _, part := range strings.Split(p.CountryScope, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "*":
			return true
		case strings.HasPrefix(part, "group:"):
			if group != "" && strings.TrimPrefix(part, "group:") == group {
				return true
			}
		case part == countryCode:
			return true
		}
	}
	return false
}

// CalculationType is the duty-math shape of a program.
type CalculationType string

const (
	CalcAdditive  CalculationType = "additive"
	CalcCompound  CalculationType = "compound"
	CalcOnPortion CalculationType = "on_portion"
)

// BaseOn names the value a duty rate is applied to.
type BaseOn string

const (
	BaseProductValue   BaseOn = "product_value"
	BaseContentValue   BaseOn = "content_value"
	BaseRemainingValue BaseOn = "remaining_value"
)

// BaseEffect is the side effect a duty base has on the running
// remaining value. Section 232 content bases subtract themselves so
// IEEPA Reciprocal does not tax the same value twice.
type BaseEffect string

const (
	EffectNone                  BaseEffect = ""
	EffectSubtractFromRemaining BaseEffect = "subtract_from_remaining"
)

// DutyRule is the per-program duty-math record.
type DutyRule struct {
	ProgramID       string          `json:"programId"`
	CalculationType CalculationType `json:"calculationType"`
	BaseOn          BaseOn          `json:"baseOn"`
	ContentKey      string          `json:"contentKey,omitempty"` // material id when BaseOn is content_value
	FallbackBaseOn  BaseOn          `json:"fallbackBaseOn,omitempty"`
	BaseEffect      BaseEffect      `json:"baseEffect,omitempty"`
}

// RowRole distinguishes imposition rows from exclusions. Exclusions win
// within their window: the exclusion's Chapter-99 code replaces the
// impose code and the rate drops to zero, but the line is still filed.
type RowRole string

const (
	RoleImpose  RowRole = "impose"
	RoleExclude RowRole = "exclude"
)

// SubjectKeys identifies what a rate row (or candidate change) is
// about. Families use different subsets: Section 301 keys on the HTS
// code, Section 232 on (HTS8/HTS10, Material, Country), IEEPA on
// (Country, Variant). Chapter99 is not part of the supersession chain
// key (see Canonical), so Section 301 rows for one HTS code share one
// chain whatever their Chapter-99 code.
type SubjectKeys struct {
	HTS8         string `json:"hts8,omitempty"`
	HTS10        string `json:"hts10,omitempty"`
	Country      string `json:"country,omitempty"`
	CountryGroup string `json:"countryGroup,omitempty"`
	Material     string `json:"material,omitempty"`
	Chapter99    string `json:"chapter99,omitempty"`
	Variant      string `json:"variant,omitempty"`
}

// Canonical returns the stable string form used to group rows into
// supersession chains.
func (k SubjectKeys) Canonical() string {
	parts := []string{
		"h8=" + k.HTS8, "h10=" + k.HTS10, "c=" + k.Country,
		"g=" + k.CountryGroup, "m=" + k.Material, "v=" + k.Variant,
	}
	return strings.Join(parts, "|")
}

// RateRow is one temporal assertion in the rate store. Rows are
// logically append-only: supersession inserts a successor and closes
// the predecessor's EffectiveEnd.
type RateRow struct {
	ID            string      `json:"id"`
	ProgramID     string      `json:"programId"`
	Keys          SubjectKeys `json:"keys"`
	Chapter99Code string      `json:"chapter99Code"`
	Rate          *float64    `json:"rate"` // nil = announced but pending
	Formula       string      `json:"formula,omitempty"`
	Role          RowRole     `json:"role"`

	EffectiveStart Date  `json:"effectiveStart"`
	EffectiveEnd   *Date `json:"effectiveEnd,omitempty"`

	SourceDocumentID string `json:"sourceDocumentId,omitempty"`
	EvidenceID       string `json:"evidenceId,omitempty"`
	SupersedesID     string `json:"supersedesId,omitempty"`
	SupersededByID   string `json:"supersededById,omitempty"`
	DatasetTag       string `json:"datasetTag,omitempty"`
	IsArchived       bool   `json:"isArchived"`
}

// Covers reports whether the row's window contains d.
func (r RateRow) Covers(d Date) bool {
	return WindowCovers(d, r.EffectiveStart, r.EffectiveEnd)
}

// RateValue returns the numeric rate, treating pending (nil) as zero.
func (r RateRow) RateValue() float64 {
	if r.Rate == nil {
		return 0
	}
	return *r.Rate
}

// ProgramRate is a country-group level rate override for a program,
// optionally expressed as a formula over the MFN base rate
// (e.g. "15% - MFN").
type ProgramRate struct {
	ProgramID      string   `json:"programId"`
	CountryOrGroup string   `json:"countryOrGroup"`
	Chapter99Code  string   `json:"chapter99Code,omitempty"`
	Rate           *float64 `json:"rate,omitempty"`
	Formula        string   `json:"formula,omitempty"`
	EffectiveStart Date     `json:"effectiveStart"`
	EffectiveEnd   *Date    `json:"effectiveEnd,omitempty"`
}

// SplitPolicy controls when a Section 232 material emits a
// disclaim/claim line pair instead of a single line.
type SplitPolicy string

const (
	SplitNever            SplitPolicy = "never"
	SplitIfAnyContent     SplitPolicy = "if_any_content"
	SplitIfAboveThreshold SplitPolicy = "if_above_threshold"
)

// ContentBasis is how material content is measured.
type ContentBasis string

const (
	ContentByValue   ContentBasis = "value"
	ContentByMass    ContentBasis = "mass"
	ContentByPercent ContentBasis = "percent"
)

// Section232Material is the per-HTS material rule: which claim and
// disclaim codes to file and at what rate. Code choice between primary
// and derivative forms is resolved at ingest time by HTS chapter; the
// stored row already carries the final codes.
type Section232Material struct {
	ID                string       `json:"id"`
	HTS8              string       `json:"hts8"`
	HTS10             string       `json:"hts10,omitempty"`
	Material          string       `json:"material"`
	ClaimCode         string       `json:"claimCode"`
	DisclaimCode      string       `json:"disclaimCode"`
	Rate              float64      `json:"rate"`
	MinPercent        float64      `json:"minPercent"` // 0..100; content below this disclaims
	SplitPolicy       SplitPolicy  `json:"splitPolicy"`
	SplitThresholdPct float64      `json:"splitThresholdPct"` // 0..100, for if_above_threshold
	ContentBasis      ContentBasis `json:"contentBasis"`
	QuantityUnit      string       `json:"quantityUnit,omitempty"`
	EffectiveStart    Date         `json:"effectiveStart"`
	EffectiveEnd      *Date        `json:"effectiveEnd,omitempty"`
}

// ActiveOn reports whether the material rule covers d.
func (m Section232Material) ActiveOn(d Date) bool {
	return WindowCovers(d, m.EffectiveStart, m.EffectiveEnd)
}

// CountryGroup is a named set of country codes (EU, UK, CN, ...). An
// HTS-country query normalizes the country to its group for
// program-rate lookup.
type CountryGroup struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// ExclusionClaim is an advisory exclusion candidate per HTS-8. Accepted
// claims become exclude-role RateRows; verification of the description
// match is an external collaborator.
type ExclusionClaim struct {
	ID             string `json:"id"`
	HTS8           string `json:"hts8"`
	Description    string `json:"description"`
	ClaimCode      string `json:"claimCode"` // typically 9903.88.69 / 9903.88.70
	EffectiveStart Date   `json:"effectiveStart"`
	EffectiveEnd   *Date  `json:"effectiveEnd,omitempty"`
	Status         string `json:"status"` // candidate / verified / rejected
}

// NormalizeHTS strips dots and whitespace from an HTS code. The 8-digit
// prefix keys inclusion queries; there is no fallback to 6/4/2 digits.
func NormalizeHTS(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
