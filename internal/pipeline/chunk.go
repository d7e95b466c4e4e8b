package pipeline

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Chunk stage: split canonical text into semantic chunks of 200–1200
// characters, preferring paragraph boundaries, with ~50 characters of
// overlap so quotes spanning a boundary stay findable.
// ──────────────────────────────────────────────────────────────────────

const (
	chunkMin     = 200
	chunkMax     = 1200
	chunkOverlap = 50
)

var htsLinePattern = regexp.MustCompile(`\b\d{4}\.\d{2}\.\d{2}\b|\b\d{8,10}\b`)

// Chunk splits rendered text into ordered chunks with char offsets
// into the original text.
func Chunk(documentID, text string) []models.DocumentChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	type span struct{ start, end int }
	var paragraphs []span
	start := 0
	for {
		idx := strings.Index(text[start:], "\n\n")
		if idx < 0 {
			paragraphs = append(paragraphs, span{start, len(text)})
			break
		}
		paragraphs = append(paragraphs, span{start, start + idx})
		start = start + idx + 2
		if start >= len(text) {
			break
		}
	}

	var chunks []models.DocumentChunk
	cur := span{paragraphs[0].start, paragraphs[0].start}
	flush := func() {
		if cur.end <= cur.start {
			return
		}
		s := cur.start
		// Overlap backwards for continuity across the boundary.
		if len(chunks) > 0 && s >= chunkOverlap {
			s -= chunkOverlap
		}
		body := text[s:cur.end]
		chunks = append(chunks, models.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Ordinal:    len(chunks),
			CharStart:  s,
			CharEnd:    cur.end,
			Text:       body,
			ChunkType:  classifyChunk(body),
		})
	}

	for _, p := range paragraphs {
		if p.end <= p.start {
			continue
		}
		paraLen := p.end - p.start
		// Oversized paragraph: hard-split on its own.
		if paraLen > chunkMax {
			flush()
			for off := p.start; off < p.end; off += chunkMax - chunkOverlap {
				end := off + chunkMax
				if end > p.end {
					end = p.end
				}
				cur = span{off, end}
				flush()
				cur = span{end, end}
				if end == p.end {
					break
				}
			}
			continue
		}
		if cur.end > cur.start && cur.end-cur.start+paraLen > chunkMax {
			flush()
			cur = span{p.start, p.start}
		}
		if cur.end == cur.start {
			cur.start = p.start
		}
		cur.end = p.end
	}
	flush()
	return chunks
}

// classifyChunk labels a chunk for the extract stage: blocks dense in
// HTS codes are tables, short shouty lines are headings.
func classifyChunk(body string) models.ChunkType {
	lines := strings.Split(body, "\n")
	htsLines := 0
	for _, line := range lines {
		if htsLinePattern.MatchString(line) {
			htsLines++
		}
	}
	if htsLines >= 2 {
		return models.ChunkTable
	}
	trimmed := strings.TrimSpace(body)
	if len(lines) == 1 && len(trimmed) < 80 && trimmed == strings.ToUpper(trimmed) && trimmed != "" {
		return models.ChunkHeading
	}
	return models.ChunkNarrative
}
