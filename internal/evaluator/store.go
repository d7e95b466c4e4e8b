package evaluator

import (
	"context"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// Store is the read surface the evaluator needs. Both the PostgreSQL
// store and the in-memory reference catalog implement it; the hot path
// performs synchronous reads only and never mutates anything.
type Store interface {
	// Programs returns the full static program catalog.
	Programs(ctx context.Context) ([]models.TariffProgram, error)

	// DutyRule returns the duty-math record for a program, or nil if
	// the program has none (base defaults to product value).
	DutyRule(ctx context.Context, programID string) (*models.DutyRule, error)

	// RateAsOf returns the single best rate row for the subject keys at
	// the given date, honoring window coverage, archive preference,
	// exclude-over-impose role priority, key specificity, and recency.
	// Returns nil when no row is in scope.
	RateAsOf(ctx context.Context, programID string, keys models.SubjectKeys, date models.Date) (*models.RateRow, error)

	// MaterialRules returns the Section 232 material rows covering the
	// HTS code at the given date. HTS-10 rows are preferred over HTS-8
	// rows for the same material.
	MaterialRules(ctx context.Context, hts8, hts10 string, date models.Date) ([]models.Section232Material, error)

	// CountryCode normalizes a country name or code to its ISO-style
	// code ("China" -> "CN"). Empty result means unknown country.
	CountryCode(ctx context.Context, name string) (string, error)

	// GroupForCountry returns the country-group name for a code, or ""
	// when the country belongs to no group.
	GroupForCountry(ctx context.Context, code string) (string, error)

	// ProgramRate returns the country- or group-level rate record for a
	// program, or nil.
	ProgramRate(ctx context.Context, programID, countryOrGroup string, date models.Date) (*models.ProgramRate, error)

	// MFNRate returns the Most-Favored-Nation base rate for an HTS-8
	// code. ok=false when the base rate is unknown.
	MFNRate(ctx context.Context, hts8 string, date models.Date) (float64, bool, error)

	// AnnexIIListed reports whether the HTS-8 code is on the IEEPA
	// Reciprocal Annex II exemption list.
	AnnexIIListed(ctx context.Context, hts8 string) (bool, error)
}
