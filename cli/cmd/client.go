package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/airlock/cli/render"
	"github.com/justapithecus/airlock/cli/tui"
	"github.com/justapithecus/airlock/iox"
	"github.com/justapithecus/airlock/types"
)

// ServerError is a non-2xx answer of the device server.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("device server: status %d", e.Code)
	}
	return fmt.Sprintf("device server: status %d: %s", e.Code, e.Message)
}

// deviceClient talks to the device server.
type deviceClient struct {
	base string
	http *http.Client
}

func newDeviceClient(c *cli.Context) *deviceClient {
	return &deviceClient{base: c.String("server"), http: http.DefaultClient}
}

func (d *deviceClient) endpoint(query url.Values, elem ...string) (string, error) {
	u, err := url.JoinPath(d.base, elem...)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", d.base, err)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u, nil
}

// send performs the request and returns the body of a 2xx answer.
func (d *deviceClient) send(ctx context.Context, method, u string, body io.Reader) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer iox.DiscardClose(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, &ServerError{Code: resp.StatusCode, Message: e.Error}
	}
	return resp.Body, nil
}

func (d *deviceClient) getJSON(ctx context.Context, query url.Values, out any, elem ...string) error {
	u, err := d.endpoint(query, elem...)
	if err != nil {
		return err
	}
	body, err := d.send(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(body)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// openStream starts an operation and returns its event stream.
func (d *deviceClient) openStream(ctx context.Context, method string, payload any, elem ...string) (*eventStream, error) {
	u, err := d.endpoint(nil, elem...)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	rc, err := d.send(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	return &eventStream{body: rc, dec: json.NewDecoder(rc)}, nil
}

// eventStream decodes a newline-delimited JSON event stream.
type eventStream struct {
	body io.ReadCloser
	dec  *json.Decoder
}

// Next returns the next event, or io.EOF once the stream is drained.
func (s *eventStream) Next() (types.Event, error) {
	var ev types.Event
	if err := s.dec.Decode(&ev); err != nil {
		if errors.Is(err, io.EOF) {
			return ev, io.EOF
		}
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func (s *eventStream) Close() error {
	return s.body.Close()
}

// followStream renders s until its terminal event. An error event or a
// truncated stream fails the command.
func followStream(c *cli.Context, view string, s *eventStream) error {
	defer iox.DiscardClose(s)

	if c.Bool("tui") {
		last, err := tui.RunProgress(view, s.Next)
		if err != nil {
			return cli.Exit(fmt.Sprintf("%s failed: %v", view, err), exitFailure)
		}
		if last.Path != "" {
			fmt.Fprintln(c.App.Writer, last.Path)
		}
		return nil
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return cli.Exit(view+" failed: stream ended before the operation finished", exitFailure)
		}
		if err != nil {
			return cli.Exit(fmt.Sprintf("%s failed: %v", view, err), exitFailure)
		}
		if err := r.RenderEvent(ev); err != nil {
			return err
		}
		if ev.Status == types.EventError {
			return cli.Exit(view+" failed: "+ev.Message, exitFailure)
		}
		if ev.Status.IsTerminal() {
			return nil
		}
	}
}

// requestFailed maps a request error onto an exit error.
func requestFailed(what string, err error) error {
	var se *ServerError
	if errors.As(err, &se) && se.Message != "" {
		return cli.Exit(fmt.Sprintf("%s: %s", what, se.Message), exitFailure)
	}
	return cli.Exit(fmt.Sprintf("%s: %v", what, err), exitFailure)
}
