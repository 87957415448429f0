package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const streamingTimeout = 600 * time.Second

// Client issues streaming chat-completion requests to the configured
// model endpoint. A request is attempted exactly once: failures end
// the stream and are surfaced in-band by the caller, never retried.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a Client targeting the given chat-completion URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		// The overall deadline is carried by the per-request context;
		// a client-level timeout would also cap the body read.
		httpClient: &http.Client{Timeout: 0},
	}
}

// Stream posts req with stream enabled and returns the response body
// carrying SSE-style data lines. Closing the returned ReadCloser
// releases the request context, aborting any in-flight read.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, streamingTimeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
