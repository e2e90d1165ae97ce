package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/LeventeLantos/social-dispatch/internal/model"
)

const maxResponseBytes = 1 << 20

// graphClient is the HTTP plumbing shared by the Graph based adapters.
type graphClient struct {
	client *http.Client
}

func newGraphClient(c *http.Client) *graphClient {
	return &graphClient{client: c}
}

type graphRequest struct {
	method string
	url    string
	// bearer, when set, is sent as an Authorization header.
	bearer string
	query  url.Values
	body   []byte
}

func (g *graphClient) do(ctx context.Context, gr graphRequest) (int, []byte, error) {
	u := gr.url
	if len(gr.query) > 0 {
		u += "?" + gr.query.Encode()
	}

	var body io.Reader
	if gr.body != nil {
		body = bytes.NewReader(gr.body)
	}

	req, err := http.NewRequestWithContext(ctx, gr.method, u, body)
	if err != nil {
		return 0, nil, err
	}
	if gr.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if gr.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+gr.bearer)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

// send posts a message and extracts the provider id found at idPath.
func (g *graphClient) send(ctx context.Context, gr graphRequest, idPath string) Result {
	status, body, err := g.do(ctx, gr)
	if err != nil {
		return transportFailure(err)
	}
	if status/100 != 2 {
		return classify(status, body)
	}

	id := gjson.GetBytes(body, idPath).String()
	if id == "" {
		return Failure(CodeInvalidResponse, "missing %s in response body=%q", idPath, truncate(body))
	}
	return Delivered(id)
}

// probe performs a connection test GET and hands the decoded body to detail.
func (g *graphClient) probe(ctx context.Context, gr graphRequest, detail func(gjson.Result) string) ConnectionStatus {
	status, body, err := g.do(ctx, gr)
	if err != nil {
		return ConnectionStatus{Detail: "connection test failed: " + err.Error()}
	}
	if status/100 != 2 {
		r := classify(status, body)
		return ConnectionStatus{Detail: fmt.Sprintf("connection failed (%s): %s", r.ErrorCode, r.ErrorMessage)}
	}
	return ConnectionStatus{Success: true, Detail: detail(gjson.ParseBytes(body))}
}

var rateLimitCodes = map[int64]bool{
	4: true, 17: true, 32: true, 613: true, 80007: true,
	130429: true, 131048: true, 131056: true,
}

var recipientCodes = map[int64]bool{
	551: true, 131026: true, 131030: true,
}

// classify maps a non-2xx Graph API response onto the common error codes.
func classify(status int, body []byte) Result {
	env := gjson.GetBytes(body, "error")
	code := env.Get("code").Int()
	sub := env.Get("error_subcode").Int()

	msg := env.Get("message").String()
	if msg == "" {
		msg = fmt.Sprintf("unexpected status code: %d body=%q", status, truncate(body))
	}

	switch {
	case status == http.StatusTooManyRequests || rateLimitCodes[code]:
		return Failure(CodeRateLimited, "%s", msg)
	case status == http.StatusUnauthorized || code == 102 || code == 190:
		return Failure(CodeAuthFailed, "%s", msg)
	case sub == 2018001 || recipientCodes[code]:
		return Failure(CodeInvalidRecipient, "%s", msg)
	case status == http.StatusForbidden || code == 10 || (code >= 200 && code <= 299):
		return Failure(CodePermissionDenied, "%s", msg)
	case status >= 500:
		return Failure(CodeProviderUnavailable, "%s", msg)
	default:
		return Failure(CodeInvalidRequest, "%s", msg)
	}
}

func transportFailure(err error) Result {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return Failure(CodeTimeout, "%v", err)
	case errors.Is(err, context.Canceled):
		return Failure(CodeCanceled, "%v", err)
	default:
		return Failure(CodeNetworkError, "%v", err)
	}
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func endpoint(creds model.Credentials, defaultBase string, parts ...string) string {
	base := strings.TrimRight(creds.BaseURL, "/")
	if base == "" {
		base = defaultBase
	}
	version := creds.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	return base + "/" + version + "/" + strings.Join(parts, "/")
}

// payload accumulates sjson writes and keeps the first error.
type payload struct {
	b   []byte
	err error
}

func newPayload(base string) *payload {
	return &payload{b: []byte(base)}
}

func (p *payload) set(path string, v any) *payload {
	if p.err == nil {
		p.b, p.err = sjson.SetBytes(p.b, path, v)
	}
	return p
}

func (p *payload) bytes() ([]byte, error) {
	return p.b, p.err
}

type mediaKind string

const (
	kindImage mediaKind = "image"
	kindVideo mediaKind = "video"
	kindAudio mediaKind = "audio"
	kindFile  mediaKind = "file"
)

// kindOf guesses the attachment kind from the media URL extension.
func kindOf(mediaURL string) mediaKind {
	p := mediaURL
	if u, err := url.Parse(mediaURL); err == nil {
		p = u.Path
	}

	switch strings.ToLower(path.Ext(p)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return kindImage
	case ".mp4", ".3gp", ".mov":
		return kindVideo
	case ".mp3", ".ogg", ".aac", ".amr", ".m4a", ".opus":
		return kindAudio
	default:
		return kindFile
	}
}
