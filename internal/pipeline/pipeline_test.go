package pipeline

import (
	"strings"
	"testing"

	"github.com/rawblock/tariff-engine/pkg/models"
)

func TestChunk_Sizes(t *testing.T) {
	para := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 10) // 450 chars
	text := para + "\n\n" + para + "\n\n" + para + "\n\n" + para

	chunks := Chunk("doc-1", text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Text) > chunkMax+chunkOverlap {
			t.Errorf("chunk %d too large: %d chars", i, len(c.Text))
		}
		if c.DocumentID != "doc-1" {
			t.Errorf("chunk %d wrong document id %s", i, c.DocumentID)
		}
		if c.Ordinal != i {
			t.Errorf("chunk %d ordinal = %d", i, c.Ordinal)
		}
		if c.CharEnd <= c.CharStart {
			t.Errorf("chunk %d empty span [%d,%d)", i, c.CharStart, c.CharEnd)
		}
	}
}

func TestChunk_OffsetsPointIntoText(t *testing.T) {
	text := "FIRST HEADING\n\n" +
		strings.Repeat("Some narrative sentence about additional duties. ", 8) + "\n\n" +
		"8544.42.9090 9903.88.03 25%\n7326.90.8688 9903.80.01 50%"

	chunks := Chunk("doc-2", text)
	for i, c := range chunks {
		if text[c.CharStart:c.CharEnd] != c.Text {
			t.Errorf("chunk %d text does not match its [CharStart,CharEnd) slice", i)
		}
	}
}

func TestChunk_Overlap(t *testing.T) {
	para := strings.Repeat("alpha beta gamma delta epsilon zeta. ", 20)
	text := para + "\n\n" + para
	chunks := Chunk("doc-3", text)
	if len(chunks) < 2 {
		t.Skipf("expected 2 chunks for overlap check, got %d", len(chunks))
	}
	// Second chunk starts before the first one ends' paragraph
	// boundary, within the overlap margin.
	if chunks[1].CharStart >= chunks[0].CharEnd {
		t.Errorf("chunk 1 start %d not overlapping chunk 0 end %d", chunks[1].CharStart, chunks[0].CharEnd)
	}
}

func TestClassifyChunk(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.ChunkType
	}{
		{"Table", "8544.42.9090 9903.88.03 25%\n8473.30.5100 9903.88.03 25%", models.ChunkTable},
		{"Heading", "ANNEX A", models.ChunkHeading},
		{"Narrative", "The additional duties apply to products of China entered on or after that date.", models.ChunkNarrative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyChunk(tt.body); got != tt.want {
				t.Errorf("classifyChunk = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRender_XML(t *testing.T) {
	raw := []byte(`<?xml version="1.0"?><DOC><HD>NOTICE</HD><P>Effective January 1, 2026 the rate for 8544.42.9090 under 9903.88.03 is 25%.</P></DOC>`)
	text, lines, err := Render("application/xml", raw)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(text, "8544.42.9090") || !strings.Contains(text, "25%") {
		t.Errorf("rendered text missing content: %q", text)
	}
	if lines < 2 {
		t.Errorf("expected line-numbered text, got %d lines", lines)
	}
}

func TestRender_HTML(t *testing.T) {
	raw := []byte(`<html><head><style>.x{color:red}</style></head><body><p>Rate of 25% applies.</p><script>alert(1)</script></body></html>`)
	text, _, err := Render("text/html", raw)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(text, "Rate of 25% applies.") {
		t.Errorf("rendered text = %q", text)
	}
	if strings.Contains(text, "alert") || strings.Contains(text, "color:red") {
		t.Errorf("script/style leaked into rendered text: %q", text)
	}
}

func TestRender_PDFWithoutTextOperators(t *testing.T) {
	if _, _, err := Render("application/pdf", []byte("%PDF-1.7 binary-image-only")); err == nil {
		t.Error("expected an error for a PDF with no text operators")
	}
}

func TestExtractTabular(t *testing.T) {
	doc := models.OfficialDocument{
		ID: "doc-fr", Source: "federal_register", Tier: models.TierA,
		PublicationDate: models.MustDate("2025-11-01"),
	}
	text := "Effective January 1, 2026:\n" +
		"8544.42.9090 9903.88.03 25%\n" +
		"8473.30.5100 9903.88.69 exclusion granted"
	chunks := []models.DocumentChunk{{
		ID: "chunk-1", DocumentID: "doc-fr", Text: text, ChunkType: models.ChunkTable,
	}}

	extractions := ExtractTabular(doc, chunks)
	if len(extractions) != 2 {
		t.Fatalf("expected 2 extractions, got %d: %+v", len(extractions), extractions)
	}

	impose := extractions[0].Candidate
	if impose.ProgramID != "section_301" || impose.Role != models.RoleImpose {
		t.Errorf("first extraction = %s/%s", impose.ProgramID, impose.Role)
	}
	if impose.Keys.HTS8 != "85444290" || impose.Keys.HTS10 != "8544429090" {
		t.Errorf("keys = %+v", impose.Keys)
	}
	if impose.Rate == nil || *impose.Rate != 0.25 {
		t.Errorf("rate = %v, want 0.25", impose.Rate)
	}
	if !impose.EffectiveStart.Equal(models.MustDate("2026-01-01")) {
		t.Errorf("effective = %s, want 2026-01-01", impose.EffectiveStart)
	}
	if extractions[0].Quote != "8544.42.9090 9903.88.03 25%" {
		t.Errorf("quote = %q", extractions[0].Quote)
	}

	excl := extractions[1].Candidate
	if excl.Role != models.RoleExclude || excl.Chapter99Code != "9903.88.69" {
		t.Errorf("second extraction = %s %s", excl.Role, excl.Chapter99Code)
	}
	if excl.Rate == nil || *excl.Rate != 0 {
		t.Errorf("exclusion rate = %v, want 0", excl.Rate)
	}
}

func TestExtractTabular_SkipsNarrativeChunks(t *testing.T) {
	doc := models.OfficialDocument{ID: "doc-n", Tier: models.TierA}
	chunks := []models.DocumentChunk{{
		ID: "c1", DocumentID: "doc-n", ChunkType: models.ChunkNarrative,
		Text: "duties of 25% under 9903.88.03 apply to 8544.42.9090",
	}}
	if got := ExtractTabular(doc, chunks); len(got) != 0 {
		t.Errorf("narrative chunks must not extract deterministically, got %d", len(got))
	}
}

func TestValidate(t *testing.T) {
	rendered := "Effective January 1, 2026 products under 8544.42.9090 are subject to 25% under 9903.88.03."
	rate := 0.25
	good := Extraction{Candidate: models.CandidateChange{
		ProgramID: "section_301", Keys: models.SubjectKeys{HTS8: "85444290", HTS10: "8544429090"},
		Role: models.RoleImpose, Chapter99Code: "9903.88.03", Rate: &rate,
		EffectiveStart: models.MustDate("2026-01-01"),
	}}
	if reasons := Validate(good, rendered); len(reasons) != 0 {
		t.Errorf("expected pass, got %v", reasons)
	}

	badHTS := good
	badHTS.Candidate.Keys = models.SubjectKeys{HTS8: "99999999"}
	if reasons := Validate(badHTS, rendered); len(reasons) == 0 {
		t.Error("expected a block reason for an HTS missing from the text")
	}

	badCode := good
	badCode.Candidate.Chapter99Code = "9903.99.99"
	if reasons := Validate(badCode, rendered); len(reasons) == 0 {
		t.Error("expected a block reason for an unresolvable chapter 99 code")
	}

	badDate := good
	badDate.Candidate.EffectiveStart = models.Date{}
	if reasons := Validate(badDate, rendered); len(reasons) == 0 {
		t.Error("expected a block reason for a missing effective date")
	}
}

func TestWriteGate(t *testing.T) {
	docA := &models.OfficialDocument{ID: "d1", Tier: models.TierA}
	docB := &models.OfficialDocument{ID: "d2", Tier: models.TierB}
	chunk := &models.DocumentChunk{ID: "c1", Text: "the rate is 25% for subheading 8544.42.9090"}

	tests := []struct {
		name     string
		in       GateInput
		wantPass bool
	}{
		{"All Checks Pass", GateInput{Document: docA, Chunk: chunk, Quote: "the rate is 25%", ValidatorPass: true}, true},
		{"Missing Document", GateInput{Chunk: chunk, Quote: "the rate is 25%", ValidatorPass: true}, false},
		{"Tier B Source", GateInput{Document: docB, Chunk: chunk, Quote: "the rate is 25%", ValidatorPass: true}, false},
		{"Missing Chunk", GateInput{Document: docA, Quote: "the rate is 25%", ValidatorPass: true}, false},
		{"Quote Not Substring", GateInput{Document: docA, Chunk: chunk, Quote: "a 30% rate", ValidatorPass: true}, false},
		{"Validator Failed", GateInput{Document: docA, Chunk: chunk, Quote: "the rate is 25%", ValidatorPass: false}, false},
		{"Warning Without Corroboration", GateInput{Document: docA, Chunk: chunk, Quote: "the rate is 25%", ValidatorPass: true, WarningSet: true}, false},
		{"Warning With Corroboration", GateInput{Document: docA, Chunk: chunk, Quote: "the rate is 25%", ValidatorPass: true, WarningSet: true, Corroborated: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := WriteGate(tt.in)
			if (len(failures) == 0) != tt.wantPass {
				t.Errorf("WriteGate failures = %v, wantPass %v", failures, tt.wantPass)
			}
		})
	}
}

func TestFetcher_DomainAllowlist(t *testing.T) {
	f := NewFetcher(map[string][]string{
		"federal_register": {"federalregister.gov"},
	})
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"Allowed Domain", "https://www.federalregister.gov/documents/x.xml", false},
		{"Exact Domain", "https://federalregister.gov/x", false},
		{"Untrusted Domain", "https://evil.example.com/x", true},
		{"Plain HTTP", "http://www.federalregister.gov/x", true},
		{"Suffix Spoof", "https://notfederalregister.gov/x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.checkDomain("federal_register", tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkDomain(%s) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
