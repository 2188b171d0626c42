package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "kafnotif/1.0"

// NewHTTPClient returns a pooled client shared by the webhook-style handlers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

type request struct {
	method      string
	url         string
	body        []byte
	contentType string
	headers     map[string]string
	timeout     time.Duration
}

func jsonRequest(url string, v any) (request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return request{}, Permanent(fmt.Errorf("marshal payload: %w", err))
	}
	return request{method: http.MethodPost, url: url, body: body, contentType: "application/json"}, nil
}

// do sends r and classifies the response: 2xx succeeds, 4xx other than 408
// and 429 is permanent, everything else is transient.
func do(ctx context.Context, client *http.Client, r request) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, bytes.NewReader(r.body))
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.url, err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("%s %s: status %d: %s", r.method, r.url, resp.StatusCode, bytes.TrimSpace(snippet))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}
