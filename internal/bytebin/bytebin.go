// Package bytebin posts serialized reports to a bytebin-style paste service
// and returns the key they can be retrieved under. The core only produces
// the payload; there is no retry policy here.
package bytebin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gojek/heimdall/v7/httpclient"
)

const userAgent = "flare"

type (
	Client struct {
		http *httpclient.Client
		url  string
	}

	postResponse struct {
		Key string `json:"key"`
	}
)

func NewClient(url string, timeout time.Duration) (Client, error) {
	if url == "" {
		return Client{}, errors.New("bytebin url must be set")
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return Client{
		url:  url,
		http: httpclient.NewClient(httpclient.WithHTTPTimeout(timeout)),
	}, nil
}

func (c Client) URL() string {
	return c.url
}

// Post uploads a payload and returns its retrieval key.
func (c Client) Post(ctx context.Context, payload []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/post", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("bytebin: unexpected status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("bytebin: reading response: %w", err)
	}
	var pr postResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &pr); err != nil {
			return "", fmt.Errorf("bytebin: decoding response: %w", err)
		}
	}
	if pr.Key == "" {
		// Some deployments only return the key in the Location header.
		if loc := resp.Header.Get("Location"); loc != "" {
			return loc, nil
		}
		return "", errors.New("bytebin: response contained no key")
	}
	return pr.Key, nil
}
