package sources

import (
	"context"

	"github.com/afisha-hq/afisha-ingest/pkg/httpclient"
)

// fakeHTTPClient records the last request and serves a canned response.
type fakeHTTPClient struct {
	status     int
	body       string
	err        error
	gotURL     string
	gotQuery   map[string]string
	gotHeaders map[string]string
	calls      int
}

type fakeResponse struct {
	body       []byte
	statusCode int
}

func (r fakeResponse) Body() []byte    { return r.body }
func (r fakeResponse) StatusCode() int { return r.statusCode }

func (c *fakeHTTPClient) Get(ctx context.Context, url string, headers map[string]string) (httpclient.Response, error) {
	return c.GetWithQuery(ctx, url, nil, headers)
}

func (c *fakeHTTPClient) GetWithQuery(ctx context.Context, url string, query, headers map[string]string) (httpclient.Response, error) {
	c.calls++
	c.gotURL = url
	c.gotQuery = query
	c.gotHeaders = headers
	if c.err != nil {
		return nil, c.err
	}
	status := c.status
	if status == 0 {
		status = 200
	}
	return fakeResponse{body: []byte(c.body), statusCode: status}, nil
}
