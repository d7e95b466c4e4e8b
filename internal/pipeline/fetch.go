package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ──────────────────────────────────────────────────────────────────────
// Fetch stage: download raw bytes from an allowlisted domain, hash
// them, and hand the payload to document storage. Transient HTTP
// failures retry with exponential backoff inside the stage timeout;
// a non-trusted domain fails immediately.
// ──────────────────────────────────────────────────────────────────────

// Fetcher downloads documents with per-source domain allowlists.
type Fetcher struct {
	client     *http.Client
	allowlists map[string][]string // source -> trusted domains
}

func NewFetcher(allowlists map[string][]string) *Fetcher {
	return &Fetcher{
		client:     &http.Client{Timeout: 60 * time.Second},
		allowlists: allowlists,
	}
}

// FetchResult is the raw payload with its digest.
type FetchResult struct {
	Body        []byte
	SHA256      string
	ContentType string
}

// permanentError wraps failures that retrying cannot fix.
func permanentError(err error) error {
	return backoff.Permanent(err)
}

// Fetch downloads rawURL for the given source.
func (f *Fetcher) Fetch(ctx context.Context, source, rawURL string) (*FetchResult, error) {
	if err := f.checkDomain(source, rawURL); err != nil {
		return nil, err
	}

	var result *FetchResult
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return permanentError(err)
		}
		req.Header.Set("User-Agent", "tariff-engine/1.0 (regulatory watcher)")

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("transient status %d from %s", resp.StatusCode, rawURL)
		default:
			return permanentError(fmt.Errorf("status %d from %s", resp.StatusCode, rawURL))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return err
		}
		sum := sha256.Sum256(body)
		result = &FetchResult{
			Body:        body,
			SHA256:      hex.EncodeToString(sum[:]),
			ContentType: resp.Header.Get("Content-Type"),
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return result, nil
}

// checkDomain enforces the hard-coded per-source allowlist.
func (f *Fetcher) checkDomain(source, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %v", rawURL, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("refusing non-https url %q", rawURL)
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range f.allowlists[source] {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}
	return fmt.Errorf("domain %q is not on the %s allowlist", host, source)
}
