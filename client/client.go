package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/textileio/fleetwatch/buildinfo"
	"github.com/textileio/fleetwatch/gateway"
)

// Client provides access to the fleetd gateway.
type Client struct {
	base string
	c    *http.Client
}

// NewClient returns a Client for the gateway at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimSuffix(baseURL, "/"),
		c:    &http.Client{Timeout: time.Minute},
	}
}

// Health returns whether the fleet is healthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var res gateway.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", &res); err != nil {
		return false, err
	}
	return res.Healthy, nil
}

// Faults returns the active faults.
func (c *Client) Faults(ctx context.Context) ([]gateway.FaultInfo, error) {
	var res gateway.FaultsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/faults", &res); err != nil {
		return nil, err
	}
	return res.Faults, nil
}

// Reset clears the fault registry and the audit log.
func (c *Client) Reset(ctx context.Context) error {
	var res gateway.ResetResponse
	if err := c.doJSON(ctx, http.MethodPost, "/reset", &res); err != nil {
		return err
	}
	if !res.Reset {
		return fmt.Errorf("reset wasn't confirmed")
	}
	return nil
}

// Version returns the build information of the daemon.
func (c *Client) Version(ctx context.Context) (buildinfo.Info, error) {
	var res buildinfo.Info
	if err := c.doJSON(ctx, http.MethodGet, "/version", &res); err != nil {
		return buildinfo.Info{}, err
	}
	return res, nil
}

// Logs copies the audit log to w.
func (c *Client) Logs(ctx context.Context, w io.Writer) error {
	res, err := c.do(ctx, http.MethodGet, "/logs")
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if _, err := io.Copy(w, res.Body); err != nil {
		return fmt.Errorf("reading audit log: %s", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, out interface{}) error {
	res, err := c.do(ctx, method, path)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %s", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %s", err)
	}
	res, err := c.c.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		defer func() { _ = res.Body.Close() }()
		var e gateway.ErrorResponse
		b, _ := ioutil.ReadAll(io.LimitReader(res.Body, 1<<16))
		if err := json.Unmarshal(b, &e); err == nil && e.Error != "" {
			return nil, fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return nil, fmt.Errorf("%s %s: unexpected status code %d", method, path, res.StatusCode)
	}
	return res, nil
}
