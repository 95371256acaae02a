package httpclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps resty for calls to payment provider APIs.
// Requests are never retried.
type Client struct {
	r *resty.Client
}

// Response is the status and body of a completed request.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// String returns the body as text.
func (r *Response) String() string {
	return string(r.Body)
}

// New creates a new HTTP client with sensible defaults.
func New() *Client {
	r := resty.New().
		SetTimeout(30*time.Second).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{r: r}
}

// WithTimeout sets a custom timeout. Zero keeps the default.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.r.SetTimeout(d)
	}
	return c
}

// WithBaseURL prefixes relative request paths.
func (c *Client) WithBaseURL(url string) *Client {
	c.r.SetBaseURL(url)
	return c
}

// WithBearerToken sets a bearer token for authentication.
func (c *Client) WithBearerToken(token string) *Client {
	c.r.SetAuthToken(token)
	return c
}

// WithBasicAuth sets HTTP basic credentials.
func (c *Client) WithBasicAuth(user, pass string) *Client {
	c.r.SetBasicAuth(user, pass)
	return c
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return wrap(c.r.R().SetContext(ctx).Get(url))
}

// PostJSON sends a POST request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, body interface{}) (*Response, error) {
	req := c.r.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	return wrap(req.Post(url))
}

// PostForm sends a POST request with url-encoded form data.
func (c *Client) PostForm(ctx context.Context, url string, data map[string]string) (*Response, error) {
	return wrap(c.r.R().SetContext(ctx).SetFormData(data).Post(url))
}

// Request returns a new resty Request bound to ctx for one-off tweaks
// such as per-call auth.
func (c *Client) Request(ctx context.Context) *resty.Request {
	return c.r.R().SetContext(ctx)
}

// Do finishes a request built with Request.
func Do(resp *resty.Response, err error) (*Response, error) {
	return wrap(resp, err)
}

func wrap(resp *resty.Response, err error) (*Response, error) {
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}
