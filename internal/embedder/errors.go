package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/54b3r/docqa-go/internal/resilience"
)

const (
	// defaultTimeout bounds one embeddings HTTP round trip.
	defaultTimeout = 60 * time.Second
	// maxErrorBody caps how much of an error response is read for the message.
	maxErrorBody = 4 << 10
)

// statusError builds the error for a non-2xx embeddings response. Rate
// limiting and server-side failures are marked transient; anything else
// (bad request, auth, unknown model) is permanent.
func statusError(prefix string, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	err := fmt.Errorf("%s: HTTP %d: %s", prefix, status, msg)
	if status == http.StatusTooManyRequests || status >= 500 {
		return resilience.Transient(err)
	}
	return err
}

// postJSON sends body to url and decodes a 2xx response into out. For other
// statuses the response is decoded into errOut (when non-nil) and errMsg is
// asked for the message to report.
func postJSON(ctx context.Context, client *http.Client, prefix, url string, header http.Header, body, out, errOut any, errMsg func() string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", prefix, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", prefix, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", prefix, ctx.Err())
		}
		return resilience.Transient(fmt.Errorf("%s: request failed: %w", prefix, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		if errOut != nil && json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(errOut) == nil && errMsg != nil {
			msg = errMsg()
		}
		return statusError(prefix, resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", prefix, err)
	}
	return nil
}

// inBatches calls embed on consecutive slices of at most size texts and
// concatenates the vectors. size <= 0 sends everything in one call.
func inBatches(ctx context.Context, texts []string, size int, embed func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if size <= 0 || size >= len(texts) {
		return embed(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// httpClient returns a client with timeout, or defaultTimeout when zero.
func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
