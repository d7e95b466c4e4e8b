package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// USITCWatcher polls the USITC HTS REST surface for revision releases
// (annual plus ad hoc). Revisions are tier A: the published HTS is
// authoritative for MFN base rates and Chapter 99 headings.
type USITCWatcher struct {
	BaseURL string
	client  *http.Client
}

func NewUSITCWatcher() *USITCWatcher {
	return &USITCWatcher{
		BaseURL: "https://hts.usitc.gov/reststop",
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *USITCWatcher) Source() string { return "usitc" }

type usitcRelease struct {
	ReleaseID   string `json:"releaseId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ReleaseDate string `json:"releaseDate"`
	DownloadURL string `json:"downloadUrl"`
}

func (w *USITCWatcher) Poll(ctx context.Context, since models.Date) ([]models.DiscoveredDocument, error) {
	reqURL := fmt.Sprintf("%s/releases", w.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usitc poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usitc status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	var releases []usitcRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, fmt.Errorf("usitc response parse: %v", err)
	}

	var out []models.DiscoveredDocument
	for _, rel := range releases {
		pub, err := models.ParseDate(rel.ReleaseDate)
		if err != nil || pub.Before(since) {
			continue
		}
		if rel.DownloadURL == "" {
			continue
		}
		out = append(out, models.DiscoveredDocument{
			Source:          w.Source(),
			ExternalID:      rel.ReleaseID,
			URL:             rel.DownloadURL,
			Title:           rel.Name,
			Tier:            models.TierA,
			PublicationDate: pub,
		})
	}
	return out, nil
}
