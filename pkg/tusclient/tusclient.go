// Package tusclient is a minimal TUS 1.0.0 client: create, append, and
// head, built over github.com/hashicorp/go-retryablehttp so that transient
// network failures are retried against an explicit delay schedule rather
// than the caller's own loop. Grounded on the client/retry-policy pairing
// in rescale-labs's internal/http/client.go and internal/http/retry.go,
// generalized from that package's generic ExecuteWithRetry wrapper into a
// retryablehttp.Client whose backoff schedule is the caller-supplied
// RetryDelays slice.
package tusclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/tusway/tusway/pkg/metadata"
)

// Client is a thin TUS client bound to one server endpoint.
type Client struct {
	endpoint string
	http     *retryablehttp.Client
}

// New builds a Client. retryDelays is the wait schedule applied between
// attempts; an empty schedule disables retries.
func New(endpoint string, retryDelays []time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = len(retryDelays)
	rc.Backoff = func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		if attempt < 0 || attempt >= len(retryDelays) {
			return min
		}
		return retryDelays[attempt]
	}

	return &Client{endpoint: endpoint, http: rc}
}

// Create issues a TUS creation-extension POST and returns the upload's
// staging id, parsed from the Location response header.
func (c *Client) Create(ctx context.Context, size int64, m metadata.Metadata) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build create request: %w", err)
	}
	req.Header.Set("Tus-Resumable", "1.0.0")
	req.Header.Set("Upload-Length", strconv.FormatInt(size, 10))
	if header := metadata.Encode(m); header != "" {
		req.Header.Set("Upload-Metadata", header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create request returned status %d", resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("create response is missing a Location header")
	}

	return idFromLocation(location), nil
}

// Append uploads body as a single PATCH starting at offset, returning the
// server's new offset after the write.
func (c *Client) Append(ctx context.Context, stagingID string, offset int64, body io.Reader, size int64) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPatch, c.uploadURL(stagingID), body)
	if err != nil {
		return 0, fmt.Errorf("failed to build append request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Tus-Resumable", "1.0.0")
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("append request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return 0, fmt.Errorf("append request returned status %d", resp.StatusCode)
	}

	newOffset, err := strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("append response has an invalid Upload-Offset header: %w", err)
	}
	return newOffset, nil
}

// Head reports an upload's current offset and declared length.
func (c *Client) Head(ctx context.Context, stagingID string) (offset, length int64, err error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, c.uploadURL(stagingID), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build head request: %w", err)
	}
	req.Header.Set("Tus-Resumable", "1.0.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("head request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("head request returned status %d", resp.StatusCode)
	}

	offset, err = strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("head response has an invalid Upload-Offset header: %w", err)
	}
	length, err = strconv.ParseInt(resp.Header.Get("Upload-Length"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("head response has an invalid Upload-Length header: %w", err)
	}
	return offset, length, nil
}

func (c *Client) uploadURL(stagingID string) string {
	return c.endpoint + "/" + stagingID
}

func idFromLocation(location string) string {
	for i := len(location) - 1; i >= 0; i-- {
		if location[i] == '/' {
			return location[i+1:]
		}
	}
	return location
}
