package resolver

import (
	"regexp"
	"strings"
)

// ──────────────────────────────────────────────────────────────────────
// Chapter-99 Resolver
//
// The one place where code-to-program knowledge is hard-wired. Given a
// Chapter-99 code (exact, or embedded in a short narrative context) it
// returns the owning program, list/subprogram, sector and a default
// rate. All live numeric rates still come from the rate store; the
// default here is only a hint for extraction.
// ──────────────────────────────────────────────────────────────────────

// Resolution is the interpretation of one Chapter-99 code.
type Resolution struct {
	Code        string  `json:"code"`
	ProgramID   string  `json:"programId"`
	List        string  `json:"list,omitempty"` // list_1 / list_3 / annex_ii / primary / derivative / ...
	Sector      string  `json:"sector,omitempty"`
	Material    string  `json:"material,omitempty"`
	DefaultRate float64 `json:"defaultRate"`
	IsExclusion bool    `json:"isExclusion"`
	IsClaim     bool    `json:"isClaim"`    // 232 claim code
	IsDisclaim  bool    `json:"isDisclaim"` // 232 disclaim code
}

var codeTable = map[string]Resolution{
	// Section 301 impose lists
	"9903.88.01": {ProgramID: "section_301", List: "list_1", DefaultRate: 0.25},
	"9903.88.02": {ProgramID: "section_301", List: "list_2", DefaultRate: 0.25},
	"9903.88.03": {ProgramID: "section_301", List: "list_3", DefaultRate: 0.25},
	"9903.88.04": {ProgramID: "section_301", List: "list_3", DefaultRate: 0.25},
	"9903.88.15": {ProgramID: "section_301", List: "list_4a", DefaultRate: 0.075},
	// Section 301 exclusions
	"9903.88.69": {ProgramID: "section_301", List: "exclusion", IsExclusion: true},
	"9903.88.70": {ProgramID: "section_301", List: "exclusion", IsExclusion: true},

	// IEEPA Fentanyl
	"9903.01.24": {ProgramID: "ieepa_fentanyl", DefaultRate: 0.10},

	// IEEPA Reciprocal variants
	"9903.01.25": {ProgramID: "ieepa_reciprocal", List: "standard", DefaultRate: 0.10},
	"9903.01.32": {ProgramID: "ieepa_reciprocal", List: "annex_ii_exempt"},
	"9903.01.33": {ProgramID: "ieepa_reciprocal", List: "standard", DefaultRate: 0.10},
	"9903.01.34": {ProgramID: "ieepa_reciprocal", List: "section_232_exempt"},
	"9903.01.35": {ProgramID: "ieepa_reciprocal", List: "us_content_exempt"},
	"9903.02.20": {ProgramID: "ieepa_reciprocal", List: "standard", Sector: "eu", DefaultRate: 0.15},

	// Section 232 copper (chapter 74 primary, others derivative)
	"9903.78.01": {ProgramID: "section_232_copper", List: "primary", Material: "copper", DefaultRate: 0.50, IsClaim: true},
	"9903.78.02": {ProgramID: "section_232_copper", List: "primary", Material: "copper", IsDisclaim: true},

	// Section 232 steel (chapters 72/73 primary, others derivative)
	"9903.80.01": {ProgramID: "section_232_steel", List: "primary", Material: "steel", DefaultRate: 0.50, IsClaim: true},
	"9903.80.02": {ProgramID: "section_232_steel", List: "primary", Material: "steel", IsDisclaim: true},
	"9903.81.89": {ProgramID: "section_232_steel", List: "derivative", Material: "steel", DefaultRate: 0.50, IsClaim: true},
	"9903.81.90": {ProgramID: "section_232_steel", List: "derivative", Material: "steel", IsDisclaim: true},

	// Section 232 aluminum (chapter 76 primary, others derivative)
	"9903.85.02": {ProgramID: "section_232_aluminum", List: "primary", Material: "aluminum", DefaultRate: 0.25, IsClaim: true},
	"9903.85.03": {ProgramID: "section_232_aluminum", List: "primary", Material: "aluminum", IsDisclaim: true},
	"9903.85.08": {ProgramID: "section_232_aluminum", List: "derivative", Material: "aluminum", DefaultRate: 0.25, IsClaim: true},
	"9903.85.09": {ProgramID: "section_232_aluminum", List: "derivative", Material: "aluminum", IsDisclaim: true},
}

var codePattern = regexp.MustCompile(`99[0-9]{2}\.[0-9]{2}\.[0-9]{2}`)

// Resolve maps an exact Chapter-99 code to its program. Returns nil for
// anything that is not a known code.
func Resolve(code string) *Resolution {
	code = strings.TrimSpace(code)
	res, ok := codeTable[code]
	if !ok {
		return nil
	}
	res.Code = code
	return &res
}

// ResolveFromContext extracts the first Chapter-99 code from a short
// narrative block and resolves it. Always returns nil when no exact
// code is extractable — narrative guessing is somebody else's job.
func ResolveFromContext(context string) *Resolution {
	for _, match := range codePattern.FindAllString(context, -1) {
		if res := Resolve(match); res != nil {
			return res
		}
	}
	return nil
}

// primaryChapters maps each 232 material to the HTS chapters where the
// primary (rather than derivative) claim codes apply.
var primaryChapters = map[string][]string{
	"steel":    {"72", "73"},
	"aluminum": {"76"},
	"copper":   {"74"},
}

// MaterialCodeVariant reports whether hts falls in the material's
// primary chapters ("primary") or not ("derivative").
func MaterialCodeVariant(material, hts string) string {
	if len(hts) < 2 {
		return "derivative"
	}
	chapter := hts[:2]
	for _, c := range primaryChapters[material] {
		if c == chapter {
			return "primary"
		}
	}
	return "derivative"
}

// CodesForMaterial returns the (claim, disclaim) code pair for a
// material on a given HTS code, honoring the primary/derivative split.
// Materials with a single code pair (copper) use it for both variants.
func CodesForMaterial(material, hts string) (claim, disclaim string, ok bool) {
	variant := MaterialCodeVariant(material, hts)
	claim, disclaim = codePairFor(material, variant)
	if claim == "" || disclaim == "" {
		claim, disclaim = codePairFor(material, "primary")
	}
	return claim, disclaim, claim != "" && disclaim != ""
}

func codePairFor(material, variant string) (claim, disclaim string) {
	for code, res := range codeTable {
		if res.Material == material && res.List == variant {
			if res.IsClaim {
				claim = code
			}
			if res.IsDisclaim {
				disclaim = code
			}
		}
	}
	return claim, disclaim
}
