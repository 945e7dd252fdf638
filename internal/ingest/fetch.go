package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// maxAttachmentBytes bounds what we pull from the provider.
const maxAttachmentBytes = 10 << 20

// Fetcher downloads fetch-style attachments. The provider's first GET
// answers with a short-lived signed URL, the second GET returns the
// bytes.
type Fetcher struct {
	client *http.Client
	logger zerolog.Logger
}

func NewFetcher(client *http.Client, logger zerolog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, logger: logger}
}

func (f *Fetcher) Fetch(ctx context.Context, url, apiKey string) ([]byte, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("calendar has no inbound provider API key")
	}

	var meta struct {
		DownloadURL string `json:"download_url"`
	}
	body, err := f.get(ctx, url, apiKey)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment metadata: %w", err)
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("decode attachment metadata: %w", err)
	}
	if meta.DownloadURL == "" {
		return nil, fmt.Errorf("attachment metadata has no download_url")
	}

	data, err := f.get(ctx, meta.DownloadURL, "")
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	return data, nil
}

func (f *Fetcher) get(ctx context.Context, url, apiKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d for %s", resp.StatusCode, url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
}
