package pipeline

import (
	"fmt"
	"strings"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// WriteGate: mechanical checks independent of any reasoning step. A
// candidate only reaches the commit engine when every check passes;
// any failure routes it to the review queue with the reasons recorded
// on its evidence packet.
// ──────────────────────────────────────────────────────────────────────

// GateInput is everything the gate inspects.
type GateInput struct {
	Document       *models.OfficialDocument
	Chunk          *models.DocumentChunk
	Quote          string
	ValidatorPass  bool
	ValidatorNotes []string
	// WarningSet marks extractions the extractor itself flagged; those
	// need at least one corroborating source before auto-commit.
	WarningSet   bool
	Corroborated bool
}

// WriteGate runs the five mechanical checks and returns the failures.
// An empty slice means the gate passed.
func WriteGate(in GateInput) []string {
	var failures []string

	switch {
	case in.Document == nil:
		failures = append(failures, "source document does not exist")
	case in.Document.Tier != models.TierA:
		failures = append(failures, fmt.Sprintf("source document tier %s is not tier A", in.Document.Tier))
	}

	if in.Chunk == nil {
		failures = append(failures, "cited chunk does not exist")
	} else if in.Quote == "" || !strings.Contains(in.Chunk.Text, in.Quote) {
		failures = append(failures, "quote is not an exact substring of the chunk text")
	}

	if !in.ValidatorPass {
		reason := "validator verdict is fail"
		if len(in.ValidatorNotes) > 0 {
			reason += ": " + strings.Join(in.ValidatorNotes, "; ")
		}
		failures = append(failures, reason)
	}

	if in.WarningSet && !in.Corroborated {
		failures = append(failures, "warning flag set without a corroborating source")
	}

	return failures
}
