package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rawblock/tariff-engine/pkg/models"
)

// FederalRegisterWatcher polls the Federal Register JSON API for
// tariff-related documents. Federal Register documents are tier A:
// they may back committed rate rows.
type FederalRegisterWatcher struct {
	BaseURL string
	Terms   []string
	client  *http.Client
}

func NewFederalRegisterWatcher() *FederalRegisterWatcher {
	return &FederalRegisterWatcher{
		BaseURL: "https://www.federalregister.gov/api/v1",
		Terms:   []string{"section 301 tariff", "section 232", "reciprocal tariff"},
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *FederalRegisterWatcher) Source() string { return "federal_register" }

type frDocument struct {
	DocumentNumber  string `json:"document_number"`
	Title           string `json:"title"`
	PublicationDate string `json:"publication_date"`
	FullTextXMLURL  string `json:"full_text_xml_url"`
	HTMLURL         string `json:"html_url"`
}

type frResponse struct {
	Count   int          `json:"count"`
	Results []frDocument `json:"results"`
	NextPageURL string   `json:"next_page_url"`
}

// Poll queries each configured term and merges the results, deduping
// by document number.
func (w *FederalRegisterWatcher) Poll(ctx context.Context, since models.Date) ([]models.DiscoveredDocument, error) {
	seen := map[string]bool{}
	var out []models.DiscoveredDocument

	for _, term := range w.Terms {
		q := url.Values{}
		q.Set("conditions[term]", term)
		q.Set("conditions[publication_date][gte]", since.String())
		q.Set("per_page", "100")
		q.Set("fields[]", "document_number")
		q.Add("fields[]", "title")
		q.Add("fields[]", "publication_date")
		q.Add("fields[]", "full_text_xml_url")
		q.Add("fields[]", "html_url")

		reqURL := fmt.Sprintf("%s/documents.json?%s", w.BaseURL, q.Encode())
		var page frResponse
		if err := w.getJSON(ctx, reqURL, &page); err != nil {
			return nil, fmt.Errorf("federal register poll %q: %w", term, err)
		}

		for _, d := range page.Results {
			if seen[d.DocumentNumber] {
				continue
			}
			seen[d.DocumentNumber] = true
			pub, err := models.ParseDate(d.PublicationDate)
			if err != nil {
				continue
			}
			docURL := d.FullTextXMLURL
			if docURL == "" {
				docURL = d.HTMLURL
			}
			if docURL == "" {
				continue
			}
			out = append(out, models.DiscoveredDocument{
				Source:          w.Source(),
				ExternalID:      d.DocumentNumber,
				URL:             docURL,
				Title:           d.Title,
				Tier:            models.TierA,
				PublicationDate: pub,
			})
		}
	}
	return out, nil
}

func (w *FederalRegisterWatcher) getJSON(ctx context.Context, reqURL string, into any) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("status %d", resp.StatusCode)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return err
			}
			return backoff.Permanent(err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		return json.Unmarshal(body, into)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(operation, policy)
}
