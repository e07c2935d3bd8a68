package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/emberworks/emberos/internal/logging"
)

// maxFetchSize caps a remote image download.
const maxFetchSize = 32 << 20

// Fetcher downloads images from the https:// sources a board file may
// name. Transient failures are retried with backoff; the digest check
// happens later, in Unpack, against the bundle manifest.
type Fetcher struct {
	client *retryablehttp.Client
	log    *logging.Logger
}

// NewFetcher builds a fetcher with retry defaults suited to boot-time
// image pulls.
func NewFetcher(log *logging.Logger) *Fetcher {
	if log == nil {
		log = logging.Nop()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil
	return &Fetcher{client: client, log: log.Component("fetch")}
}

// Fetch downloads one image or bundle.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if len(b) > maxFetchSize {
		return nil, fmt.Errorf("fetch %s: larger than %d bytes", url, maxFetchSize)
	}
	f.log.Debug("image fetched", zap.String("url", url), zap.Int("bytes", len(b)))
	return b, nil
}
