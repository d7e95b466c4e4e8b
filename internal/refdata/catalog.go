package refdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rawblock/tariff-engine/internal/commit"
	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// In-memory reference catalog.
//
// Implements the same store surfaces as the PostgreSQL store: the
// evaluator read interface and the commit engine's transactional write
// interface. It seeds the static program catalog and serves as the
// fixture for every test that does not need a live database.
// ──────────────────────────────────────────────────────────────────────

type Catalog struct {
	mu sync.RWMutex

	programs     []models.TariffProgram
	dutyRules    map[string]models.DutyRule
	rates        []models.RateRow
	programRates []models.ProgramRate
	materials    []models.Section232Material
	groups       []models.CountryGroup
	countryCodes map[string]string
	mfn          map[string]float64
	annexII      map[string]bool

	documents  map[string]models.OfficialDocument
	candidates map[string]*models.CandidateChange
	auditLog   []models.AuditLogEntry
	runChanges []models.RunChange
}

func New() *Catalog {
	return &Catalog{
		dutyRules:    map[string]models.DutyRule{},
		countryCodes: map[string]string{},
		mfn:          map[string]float64{},
		annexII:      map[string]bool{},
		documents:    map[string]models.OfficialDocument{},
		candidates:   map[string]*models.CandidateChange{},
	}
}

// ── evaluator.Store ──────────────────────────────────────────────

func (c *Catalog) Programs(ctx context.Context) ([]models.TariffProgram, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.TariffProgram, len(c.programs))
	copy(out, c.programs)
	return out, nil
}

func (c *Catalog) DutyRule(ctx context.Context, programID string) (*models.DutyRule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if dr, ok := c.dutyRules[programID]; ok {
		return &dr, nil
	}
	return nil, nil
}

// RateAsOf applies the temporal store precedence: window coverage,
// non-archived preferred, exclude before impose, most specific subject
// key, most recent effective start.
func (c *Catalog) RateAsOf(ctx context.Context, programID string, keys models.SubjectKeys, date models.Date) (*models.RateRow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var live, archived []models.RateRow
	for _, r := range c.rates {
		if r.ProgramID != programID || !r.Covers(date) || !rowKeysMatch(r.Keys, keys) {
			continue
		}
		if r.IsArchived {
			archived = append(archived, r)
		} else {
			live = append(live, r)
		}
	}
	pool := live
	if len(pool) == 0 {
		pool = archived
	}
	if len(pool) == 0 {
		return nil, nil
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if a, b := roleRank(pool[i].Role), roleRank(pool[j].Role); a != b {
			return a < b
		}
		if a, b := specificity(pool[i].Keys), specificity(pool[j].Keys); a != b {
			return a > b
		}
		return pool[i].EffectiveStart.After(pool[j].EffectiveStart)
	})
	row := pool[0]
	return &row, nil
}

// rowKeysMatch reports whether every populated field of the row's
// subject keys agrees with the query.
func rowKeysMatch(row, q models.SubjectKeys) bool {
	if row.HTS8 != "" && row.HTS8 != q.HTS8 {
		return false
	}
	if row.HTS10 != "" && row.HTS10 != q.HTS10 {
		return false
	}
	if row.Country != "" && row.Country != q.Country {
		return false
	}
	if row.CountryGroup != "" && row.CountryGroup != q.CountryGroup {
		return false
	}
	if row.Material != "" && row.Material != q.Material {
		return false
	}
	if row.Variant != "" && row.Variant != q.Variant {
		return false
	}
	if q.Variant != "" && row.Variant == "" {
		return false
	}
	return true
}

func roleRank(r models.RowRole) int {
	if r == models.RoleExclude {
		return 0
	}
	return 1
}

func specificity(k models.SubjectKeys) int {
	s := 0
	if k.HTS10 != "" {
		s += 8
	}
	if k.HTS8 != "" {
		s += 4
	}
	if k.Country != "" {
		s += 2
	}
	if k.CountryGroup != "" {
		s += 1
	}
	return s
}

func (c *Catalog) MaterialRules(ctx context.Context, hts8, hts10 string, date models.Date) ([]models.Section232Material, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.Section232Material
	for _, m := range c.materials {
		if !m.ActiveOn(date) {
			continue
		}
		if m.HTS10 != "" && hts10 != "" && m.HTS10 == hts10 {
			out = append(out, m)
			continue
		}
		if m.HTS10 == "" && m.HTS8 == hts8 {
			out = append(out, m)
		}
	}
	// HTS-10 rows first so callers preferring specificity see them early.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HTS10 != "" && out[j].HTS10 == ""
	})
	return out, nil
}

func (c *Catalog) CountryCode(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if code, ok := c.countryCodes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return code, nil
	}
	// Accept a known code passed directly.
	up := strings.ToUpper(strings.TrimSpace(name))
	for _, code := range c.countryCodes {
		if code == up {
			return code, nil
		}
	}
	return "", nil
}

func (c *Catalog) GroupForCountry(ctx context.Context, code string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, g := range c.groups {
		for _, m := range g.Members {
			if m == code {
				return g.Name, nil
			}
		}
	}
	return "", nil
}

func (c *Catalog) ProgramRate(ctx context.Context, programID, countryOrGroup string, date models.Date) (*models.ProgramRate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, pr := range c.programRates {
		if pr.ProgramID == programID && pr.CountryOrGroup == countryOrGroup &&
			models.WindowCovers(date, pr.EffectiveStart, pr.EffectiveEnd) {
			out := pr
			return &out, nil
		}
	}
	return nil, nil
}

func (c *Catalog) MFNRate(ctx context.Context, hts8 string, date models.Date) (float64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rate, ok := c.mfn[hts8]
	return rate, ok, nil
}

func (c *Catalog) AnnexIIListed(ctx context.Context, hts8 string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.annexII[hts8], nil
}

// ── commit.Store / commit.Tx ─────────────────────────────────────
//
// The in-memory transaction takes the whole-catalog lock for its
// duration. Mutations are applied last inside the engine's callback,
// so a returned error leaves the catalog unchanged in every engine
// path that validates before writing.

type memTx struct {
	c *Catalog
}

func (c *Catalog) InTx(ctx context.Context, fn func(tx commit.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(&memTx{c: c})
}

func (t *memTx) ActiveOverlapping(ctx context.Context, programID string, keys models.SubjectKeys, role models.RowRole, start models.Date, end *models.Date) ([]models.RateRow, error) {
	var out []models.RateRow
	for _, r := range t.c.rates {
		if r.IsArchived || r.ProgramID != programID || r.Role != role {
			continue
		}
		if r.Keys.Canonical() != keys.Canonical() {
			continue
		}
		if models.WindowsOverlap(r.EffectiveStart, r.EffectiveEnd, start, end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) CloseWindow(ctx context.Context, rowID string, end models.Date, supersededBy string) error {
	for i := range t.c.rates {
		if t.c.rates[i].ID == rowID {
			e := end
			t.c.rates[i].EffectiveEnd = &e
			t.c.rates[i].SupersededByID = supersededBy
			return nil
		}
	}
	return fmt.Errorf("rate row %s not found", rowID)
}

func (t *memTx) InsertRateRow(ctx context.Context, row models.RateRow) error {
	t.c.rates = append(t.c.rates, row)
	return nil
}

func (t *memTx) UpdateCandidate(ctx context.Context, id string, status models.CandidateStatus, blockReason string) error {
	cand, ok := t.c.candidates[id]
	if !ok {
		// Tests drive the engine with candidates that were never
		// registered; treat those as tracked-elsewhere.
		return nil
	}
	cand.Status = status
	cand.BlockReason = blockReason
	return nil
}

func (t *memTx) AppendAudit(ctx context.Context, entry models.AuditLogEntry) error {
	t.c.auditLog = append(t.c.auditLog, entry)
	return nil
}

func (t *memTx) AppendRunChange(ctx context.Context, rc models.RunChange) error {
	t.c.runChanges = append(t.c.runChanges, rc)
	return nil
}

func (t *memTx) DocumentTier(ctx context.Context, documentID string) (models.SourceTier, error) {
	if doc, ok := t.c.documents[documentID]; ok {
		return doc.Tier, nil
	}
	return "", fmt.Errorf("document %s not found", documentID)
}

// ── direct accessors for seeding and tests ───────────────────────

func (c *Catalog) AddProgram(p models.TariffProgram) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.programs = append(c.programs, p)
}

func (c *Catalog) AddDutyRule(dr models.DutyRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dutyRules[dr.ProgramID] = dr
}

func (c *Catalog) AddRate(r models.RateRow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates = append(c.rates, r)
}

func (c *Catalog) AddProgramRate(pr models.ProgramRate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.programRates = append(c.programRates, pr)
}

func (c *Catalog) AddMaterial(m models.Section232Material) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materials = append(c.materials, m)
}

func (c *Catalog) AddGroup(g models.CountryGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = append(c.groups, g)
}

func (c *Catalog) AddCountry(name, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countryCodes[strings.ToLower(name)] = code
}

func (c *Catalog) SetMFN(hts8 string, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mfn[hts8] = rate
}

func (c *Catalog) AddAnnexII(hts8 string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.annexII[hts8] = true
}

func (c *Catalog) AddDocument(d models.OfficialDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.documents[d.ID] = d
}

func (c *Catalog) AddCandidate(cand *models.CandidateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates[cand.ID] = cand
}

func (c *Catalog) Rates() []models.RateRow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.RateRow, len(c.rates))
	copy(out, c.rates)
	return out
}

func (c *Catalog) AuditEntries() []models.AuditLogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.AuditLogEntry, len(c.auditLog))
	copy(out, c.auditLog)
	return out
}

func (c *Catalog) RunChanges() []models.RunChange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.RunChange, len(c.runChanges))
	copy(out, c.runChanges)
	return out
}
