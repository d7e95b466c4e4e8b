package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Run manifests: one JSON file per RegulatoryRun summarizing the
// documents it discovered and the rate changes it produced, written
// locally and optionally archived to S3 for off-system retention.
// ──────────────────────────────────────────────────────────────────────

// RunManifest is the archival shape.
type RunManifest struct {
	Run       models.RegulatoryRun   `json:"run"`
	Documents []models.RunDocument   `json:"documents"`
	Changes   []models.RunChange     `json:"changes"`
}

// Writer persists manifests.
type Writer struct {
	dir      string
	bucket   string
	s3client *s3.Client
}

// NewWriter builds a manifest writer. When bucket is non-empty the
// default AWS credential chain is loaded; S3 failures degrade to
// local-only with a warning rather than failing the run.
func NewWriter(ctx context.Context, dir, bucket string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifest dir: %v", err)
	}
	w := &Writer{dir: dir, bucket: bucket}
	if bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Printf("[Manifest] S3 disabled, aws config failed: %v", err)
		} else {
			w.s3client = s3.NewFromConfig(awsCfg)
		}
	}
	return w, nil
}

// Write serializes the manifest, stores it under the manifest
// directory, and uploads it to S3 when configured.
func (w *Writer) Write(ctx context.Context, m RunManifest) (string, error) {
	if m.Documents == nil {
		m.Documents = []models.RunDocument{}
	}
	if m.Changes == nil {
		m.Changes = []models.RunChange{}
	}

	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("run-%s.json", m.Run.ID)
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %v", err)
	}

	if w.s3client != nil {
		key := fmt.Sprintf("manifests/%s/%s", m.Run.Source, name)
		_, err := w.s3client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      &w.bucket,
			Key:         &key,
			Body:        bytes.NewReader(payload),
			ContentType: strPtr("application/json"),
		})
		if err != nil {
			log.Printf("[Manifest] S3 upload of %s failed: %v", key, err)
		}
	}
	return path, nil
}

func strPtr(s string) *string { return &s }
