package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout bounds a page fetch.
	DefaultFetchTimeout = 10 * time.Second
	// MaxPageSize caps the bytes read from a page response.
	MaxPageSize = 8 << 20
)

var pageClient = &http.Client{Timeout: DefaultFetchTimeout}

// FetchPage downloads the HTML document at pageURL.
func FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", "livepage/1.0")

	start := time.Now()
	resp, err := pageClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	slog.Info("page_fetched",
		"url", pageURL,
		"bytes", len(body),
		"duration", time.Since(start),
	)
	return body, nil
}
