package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Evidence store: documents, chunks, evidence packets.
// ──────────────────────────────────────────────────────────────────────

// InsertDocument stores a fetched document. Documents are immutable:
// an existing (source, external_id) pair is left untouched and the
// stored row is returned so the caller can detect an unchanged SHA.
func (s *Store) InsertDocument(ctx context.Context, d models.OfficialDocument) (stored models.OfficialDocument, existed bool, err error) {
	var pub any
	if !d.PublicationDate.IsZero() {
		pub = d.PublicationDate.Time()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO official_documents
		(id, source, external_id, tier, canonical_url, title, publication_date,
		 fetched_at, raw_sha256, raw_bytes, rendered_text, line_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (source, external_id) DO NOTHING`,
		d.ID, d.Source, d.ExternalID, d.Tier, d.CanonicalURL, d.Title, pub,
		d.FetchedAt, d.RawSHA256, d.RawBytes, d.RenderedText, d.LineCount)
	if err != nil {
		return models.OfficialDocument{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return d, false, nil
	}
	prev, err := s.DocumentBySource(ctx, d.Source, d.ExternalID)
	if err != nil {
		return models.OfficialDocument{}, true, err
	}
	return *prev, true, nil
}

// UpdateRenderedText records the canonical rendering for a document
// that was stored at fetch time before rendering ran.
func (s *Store) UpdateRenderedText(ctx context.Context, documentID, text string, lineCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE official_documents SET rendered_text = $2, line_count = $3 WHERE id = $1`,
		documentID, text, lineCount)
	return err
}

const documentColumns = `id, source, external_id, tier, canonical_url, COALESCE(title,''),
	publication_date, fetched_at, raw_sha256, raw_bytes, COALESCE(rendered_text,''), line_count`

func scanDocument(row pgx.Row) (*models.OfficialDocument, error) {
	var d models.OfficialDocument
	var pub *time.Time
	err := row.Scan(&d.ID, &d.Source, &d.ExternalID, &d.Tier, &d.CanonicalURL, &d.Title,
		&pub, &d.FetchedAt, &d.RawSHA256, &d.RawBytes, &d.RenderedText, &d.LineCount)
	if err != nil {
		return nil, err
	}
	if pub != nil {
		d.PublicationDate = models.DateFromTime(*pub)
	}
	return &d, nil
}

func (s *Store) Document(ctx context.Context, id string) (*models.OfficialDocument, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM official_documents WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *Store) DocumentBySource(ctx context.Context, source, externalID string) (*models.OfficialDocument, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM official_documents WHERE source = $1 AND external_id = $2`,
		source, externalID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// InsertChunks stores a document's chunks in one transaction.
func (s *Store) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO document_chunks (id, document_id, ordinal, char_start, char_end, text, chunk_type, embedding_key)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO NOTHING`,
			c.ID, c.DocumentID, c.Ordinal, c.CharStart, c.CharEnd, c.Text, c.ChunkType, nullable(c.EmbeddingKey)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) Chunk(ctx context.Context, id string) (*models.DocumentChunk, error) {
	var c models.DocumentChunk
	var embKey *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, document_id, ordinal, char_start, char_end, text, chunk_type, embedding_key
		FROM document_chunks WHERE id = $1`, id).
		Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.CharStart, &c.CharEnd, &c.Text, &c.ChunkType, &embKey)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if embKey != nil {
		c.EmbeddingKey = *embKey
	}
	return &c, nil
}

func (s *Store) ChunksForDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, ordinal, char_start, char_end, text, chunk_type, COALESCE(embedding_key,'')
		FROM document_chunks WHERE document_id = $1 ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var c models.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.CharStart, &c.CharEnd, &c.Text, &c.ChunkType, &c.EmbeddingKey); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertEvidence stores an evidence packet.
func (s *Store) InsertEvidence(ctx context.Context, e models.EvidencePacket) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO evidence_packets
		(id, document_id, chunk_id, quote, quote_sha256, extractor_output, write_gate_passed, gate_failures, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.DocumentID, e.ChunkID, e.Quote, e.QuoteSHA256, e.ExtractorOutput,
		e.WriteGatePassed, e.GateFailures, e.CreatedAt)
	return err
}

func (s *Store) Evidence(ctx context.Context, id string) (*models.EvidencePacket, error) {
	var e models.EvidencePacket
	err := s.pool.QueryRow(ctx, `
		SELECT id, document_id, chunk_id, quote, quote_sha256, COALESCE(extractor_output,''),
		       write_gate_passed, COALESCE(gate_failures, '{}'), created_at
		FROM evidence_packets WHERE id = $1`, id).
		Scan(&e.ID, &e.DocumentID, &e.ChunkID, &e.Quote, &e.QuoteSHA256, &e.ExtractorOutput,
			&e.WriteGatePassed, &e.GateFailures, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
