package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/social-dispatch/internal/api"
	"github.com/LeventeLantos/social-dispatch/internal/model"
)

// APIClient talks to the dispatcher HTTP API. dispatchctl is built on it.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is returned for non 2xx responses. Message carries the server's
// explanation when the body had one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Message)
}

type ListOptions struct {
	Platform  string
	Status    string
	Recipient string
	Limit     int
	Offset    int
}

func (c *APIClient) Create(ctx context.Context, req api.CreateRequest) (api.Result, error) {
	var res api.Result
	err := c.do(ctx, http.MethodPost, "/v1/messages", req, &res)
	return res, err
}

func (c *APIClient) Send(ctx context.Context, id string) (api.Result, error) {
	var res api.Result
	err := c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/send", nil, &res)
	return res, err
}

func (c *APIClient) Retry(ctx context.Context, id string) (api.Result, error) {
	var res api.Result
	err := c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/retry", nil, &res)
	return res, err
}

func (c *APIClient) Get(ctx context.Context, id string) (model.Message, error) {
	var m model.Message
	err := c.do(ctx, http.MethodGet, "/v1/messages/"+url.PathEscape(id), nil, &m)
	return m, err
}

func (c *APIClient) List(ctx context.Context, opts ListOptions) ([]model.Message, error) {
	q := url.Values{}
	if opts.Platform != "" {
		q.Set("platform", opts.Platform)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Recipient != "" {
		q.Set("recipient", opts.Recipient)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/v1/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var body struct {
		Items []model.Message `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &body)
	return body.Items, err
}

func (c *APIClient) TestConnection(ctx context.Context, platform string) (api.Result, error) {
	var res api.Result
	err := c.do(ctx, http.MethodPost, "/v1/connections/"+url.PathEscape(platform)+"/test", nil, &res)
	return res, err
}

// do decodes the response into out whatever the status, so callers keep the
// {success, message} body of a rejected call alongside the error.
func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	decodeErr := json.Unmarshal(body, out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var r api.Result
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &r) == nil && r.Message != "" {
			msg = r.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode json: %w body=%q", decodeErr, string(body))
	}
	return nil
}
