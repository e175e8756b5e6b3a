// Package supplierfeed fetches the supplier's XML catalog feed.
package supplierfeed

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrUnauthorized signals that the feed endpoint rejected our credentials.
// The engine finalizes such runs as NEED_AUTH.
var ErrUnauthorized = errors.New("feed endpoint rejected credentials")

// Client is a minimal HTTP client for downloading the feed as a stream.
type Client struct {
	httpClient *http.Client
	url        string
	token      string
}

// NewClient constructs a feed client. The underlying transport uses a
// response-header timeout rather than an overall one: feeds are tens of
// megabytes and stream for minutes.
func NewClient(url, token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
				// We decompress ourselves so the stream stays inspectable.
				DisableCompression: true,
			},
		},
		url:   url,
		token: token,
	}
}

// Fetch opens the feed stream. The caller owns the returned reader.
func (c *Client) Fetch(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w (http %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	log.Debug().Str("url", c.url).Str("encoding", resp.Header.Get("Content-Encoding")).Msg("feed stream opened")

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return &gzipBody{gz: gz, body: resp.Body}, nil
	}
	return resp.Body, nil
}

// gzipBody closes both the gzip reader and the underlying response body.
type gzipBody struct {
	gz   *gzip.Reader
	body io.ReadCloser
}

func (g *gzipBody) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipBody) Close() error {
	errGz := g.gz.Close()
	errBody := g.body.Close()
	if errGz != nil {
		return errGz
	}
	return errBody
}
