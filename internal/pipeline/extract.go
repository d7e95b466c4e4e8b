package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/tariff-engine/internal/resolver"
	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Extract stage. Tabular chunks parse deterministically: a row is a
// line carrying a base HTS code, a Chapter-99 code the resolver knows,
// and a percentage rate, with the effective date taken from the row or
// the surrounding chunk. Narrative inputs go through an external
// reasoning collaborator behind the NarrativeExtractor interface,
// producing the same CandidateChange shape with verbatim quotes.
// ──────────────────────────────────────────────────────────────────────

// NarrativeExtractor is the external reasoning step for documents
// without tabular rate structures. Implementations must return
// candidates whose Quote fields are verbatim substrings of the chunk.
type NarrativeExtractor interface {
	Extract(ctx context.Context, doc models.OfficialDocument, chunk models.DocumentChunk) ([]Extraction, error)
}

// Extraction is one proposed change with the quote that backs it.
type Extraction struct {
	Candidate models.CandidateChange
	Quote     string
	ChunkID   string
}

var (
	baseHTSPattern = regexp.MustCompile(`\b(\d{4}\.\d{2}\.\d{2}(?:\.?\d{2})?|\d{8}|\d{10})\b`)
	ratePattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:%|percent)`)
	isoDatePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	longDatePattern = regexp.MustCompile(`\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2}),\s+(\d{4})\b`)
)

// ExtractTabular walks table chunks and emits one Extraction per
// parseable rate row.
func ExtractTabular(doc models.OfficialDocument, chunks []models.DocumentChunk) []Extraction {
	var out []Extraction
	for _, chunk := range chunks {
		if chunk.ChunkType != models.ChunkTable {
			continue
		}
		chunkDate := findEffectiveDate(chunk.Text)
		for _, line := range strings.Split(chunk.Text, "\n") {
			ext, ok := parseRateLine(doc, chunk, line, chunkDate)
			if !ok {
				continue
			}
			out = append(out, ext)
		}
	}
	return out
}

// parseRateLine interprets one table line. The Chapter-99 code decides
// the program and subject-key shape; the base HTS code must not itself
// be a Chapter-99 heading.
func parseRateLine(doc models.OfficialDocument, chunk models.DocumentChunk, line string, chunkDate models.Date) (Extraction, bool) {
	res := resolver.ResolveFromContext(line)
	if res == nil {
		return Extraction{}, false
	}

	var hts string
	for _, m := range baseHTSPattern.FindAllString(line, -1) {
		digits := models.NormalizeHTS(m)
		if strings.HasPrefix(digits, "99") {
			continue
		}
		if len(digits) >= 8 {
			hts = digits
			break
		}
	}
	if hts == "" {
		return Extraction{}, false
	}

	var rate *float64
	if m := ratePattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			r := v / 100
			rate = &r
		}
	}
	if rate == nil && !res.IsExclusion {
		// Imposition rows without a parseable rate are skipped, not kept
		// as pending candidates: a rate-less line is more often a heading.
		return Extraction{}, false
	}

	effective := findEffectiveDate(line)
	if effective.IsZero() {
		effective = chunkDate
	}
	if effective.IsZero() {
		effective = doc.PublicationDate
	}

	keys := models.SubjectKeys{HTS8: hts[:8]}
	if len(hts) >= 10 {
		keys.HTS10 = hts[:10]
	}
	if res.Material != "" {
		keys.Material = res.Material
	}
	role := models.RoleImpose
	if res.IsExclusion {
		role = models.RoleExclude
		zero := 0.0
		rate = &zero
	}

	cand := models.CandidateChange{
		ID:             uuid.NewString(),
		ProgramID:      res.ProgramID,
		Keys:           keys,
		Role:           role,
		Chapter99Code:  res.Code,
		Rate:           rate,
		EffectiveStart: effective,
		DocumentID:     doc.ID,
		Status:         models.CandidatePending,
		CreatedAt:      time.Now().UTC(),
	}
	return Extraction{Candidate: cand, Quote: strings.TrimSpace(line), ChunkID: chunk.ID}, true
}

// findEffectiveDate scans text for an ISO date or a "Month D, YYYY"
// date near the word "effective"; failing that, any date in the text.
func findEffectiveDate(text string) models.Date {
	lower := strings.ToLower(text)
	if idx := strings.Index(lower, "effective"); idx >= 0 {
		window := text[idx:]
		if len(window) > 120 {
			window = window[:120]
		}
		if d := firstDate(window); !d.IsZero() {
			return d
		}
	}
	return firstDate(text)
}

func firstDate(text string) models.Date {
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if d, err := models.ParseDate(m[1]); err == nil {
			return d
		}
	}
	if m := longDatePattern.FindStringSubmatch(text); m != nil {
		t, err := time.Parse("January 2, 2006", fmt.Sprintf("%s %s, %s", m[1], m[2], m[3]))
		if err == nil {
			return models.DateFromTime(t)
		}
	}
	return models.Date{}
}

// QuoteHash fingerprints an evidence quote.
func QuoteHash(quote string) string {
	sum := sha256.Sum256([]byte(quote))
	return hex.EncodeToString(sum[:])
}
