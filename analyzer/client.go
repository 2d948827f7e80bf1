package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/types"
)

// DefaultPollInterval is the Wait polling period when none is given.
const DefaultPollInterval = time.Second

// APIError is a non-success answer from the analyzer server.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analyzer: status %d", e.Code)
	}
	return fmt.Sprintf("analyzer: status %d: %s", e.Code, e.Message)
}

// Client talks to a remote analyzer over HTTP.
type Client struct {
	// BaseURL is the server root, e.g. http://analyzer:8042.
	BaseURL string
	// Source identifies the submitting station in request paths.
	Source string
	// HTTP defaults to http.DefaultClient.
	HTTP *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) endpoint(elem ...string) (string, error) {
	return url.JoinPath(c.BaseURL, append([]string{"api", "scanbundle", c.Source}, elem...)...)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("analyzer: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{Code: resp.StatusCode, Message: body.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("analyzer: decode response: %w", err)
	}
	return nil
}

// Submit uploads a bundle for scanning and returns the job id.
func (c *Client) Submit(ctx context.Context, bundle io.Reader) (string, error) {
	u, err := c.endpoint()
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bundle)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp types.SubmitResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("analyzer: empty job id")
	}
	return resp.ID, nil
}

// Poll fetches the job view once. A terminal view is consumed by the
// server; polling it again returns ErrNotFound.
func (c *Client) Poll(ctx context.Context, id string) (*types.JobView, error) {
	u, err := c.endpoint(id)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var view types.JobView
	if err := c.do(req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Wait polls every interval until the job is terminal and returns the
// terminal view.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (*types.JobView, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		view, err := c.Poll(ctx, id)
		if err != nil {
			return nil, err
		}
		if view.Status.IsTerminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
