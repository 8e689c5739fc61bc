package httpclient

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/net/context/ctxhttp"
)

type HttpClient struct {
	client *http.Client
}

func NewHttpClient(timeout time.Duration) *HttpClient {
	return &HttpClient{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Wrap uses an existing *http.Client, e.g. one with a custom transport.
func Wrap(c *http.Client) *HttpClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &HttpClient{client: c}
}

// Do sends req, aborting when ctx is done.
func (h *HttpClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return ctxhttp.Do(ctx, h.client, req)
}
