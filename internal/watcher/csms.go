package watcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// CSMSWatcher scrapes the CBP Cargo Systems Messaging Service bulletin
// archive. CSMS messages are tier B — operational signal, never the
// backing source for a committed rate row.
type CSMSWatcher struct {
	ArchiveURL string
	client     *http.Client
}

func NewCSMSWatcher() *CSMSWatcher {
	return &CSMSWatcher{
		ArchiveURL: "https://content.govdelivery.com/accounts/USDHSCBP/bulletins",
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *CSMSWatcher) Source() string { return "cbp_csms" }

// Bulletin links look like /accounts/USDHSCBP/bulletins/3abc123 with
// the CSMS number in the link text ("CSMS # 65432109 - Guidance ...").
var csmsLinkPattern = regexp.MustCompile(`href="(/accounts/USDHSCBP/bulletins/([0-9a-f]+))"[^>]*>\s*(?:<[^>]+>\s*)*CSMS\s*#\s*(\d+)\s*[-–—]\s*([^<]+)`)

var tariffKeywords = []string{"301", "232", "ieepa", "tariff", "duty", "duties", "reciprocal", "chapter 99"}

func (w *CSMSWatcher) Poll(ctx context.Context, since models.Date) ([]models.DiscoveredDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.ArchiveURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("csms archive fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("csms archive status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	return w.parseArchive(string(body)), nil
}

// parseArchive extracts tariff-relevant bulletins from the archive
// page. The page carries no reliable per-item dates, so dedup happens
// at the ingest-queue level rather than by since-date here.
func (w *CSMSWatcher) parseArchive(html string) []models.DiscoveredDocument {
	var out []models.DiscoveredDocument
	for _, m := range csmsLinkPattern.FindAllStringSubmatch(html, -1) {
		path, csmsNumber, title := m[1], m[3], strings.TrimSpace(m[4])
		lower := strings.ToLower(title)
		relevant := false
		for _, kw := range tariffKeywords {
			if strings.Contains(lower, kw) {
				relevant = true
				break
			}
		}
		if !relevant {
			continue
		}
		out = append(out, models.DiscoveredDocument{
			Source:          w.Source(),
			ExternalID:      csmsNumber,
			URL:             "https://content.govdelivery.com" + path,
			Title:           title,
			Tier:            models.TierB,
			PublicationDate: models.Today(),
		})
	}
	return out
}
