package probe

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/net/http2"
)

var (
	log = logging.Logger("probe")

	// maxBodySize caps how much of a response is read.
	maxBodySize int64 = 4 << 20
)

// Client performs timeout-bounded probe calls.
type Client struct {
	c *http.Client
}

// NewClient returns a Client whose calls time out after timeout.
func NewClient(timeout time.Duration) (*Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("configuring http2 transport: %s", err)
	}
	return &Client{
		c: &http.Client{
			Transport: tr,
			Timeout:   timeout,
		},
	}, nil
}

// Get fetches url and returns the response body. Transport failures,
// timeouts and non-2xx statuses are errors.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %s", err)
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(ioutil.Discard, io.LimitReader(res.Body, maxBodySize))
		if err := res.Body.Close(); err != nil {
			log.Debugf("closing response body of %s: %s", url, err)
		}
	}()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code %d", res.StatusCode)
	}
	body, err := ioutil.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %s", err)
	}
	return body, nil
}
