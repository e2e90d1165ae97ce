package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/LeventeLantos/social-dispatch/internal/model"
)

const defaultInstagramGraphURL = "https://graph.instagram.com"

// FacebookAdapter sends through the Messenger Platform on behalf of a page.
type FacebookAdapter struct {
	graph *graphClient
}

func NewFacebookAdapter(g *graphClient) *FacebookAdapter {
	return &FacebookAdapter{graph: g}
}

func (a *FacebookAdapter) Platform() model.Platform { return model.Facebook }

func (a *FacebookAdapter) Supports(t model.MessageType) bool { return messengerSupports(t) }

func (a *FacebookAdapter) NormalizeRecipient(recipient string) (string, error) {
	return normalizeScopedID(model.Facebook, recipient)
}

func (a *FacebookAdapter) TestConnection(ctx context.Context, creds model.Credentials) ConnectionStatus {
	if creds.AccessToken == "" {
		return ConnectionStatus{Detail: "page access token is required"}
	}

	return a.graph.probe(ctx, graphRequest{
		method: http.MethodGet,
		url:    endpoint(creds, defaultFacebookGraphURL, "me"),
		query: map[string][]string{
			"fields":       {"id,name"},
			"access_token": {creds.AccessToken},
		},
	}, func(r gjson.Result) string {
		if n := r.Get("name").String(); n != "" {
			return "Connection successful! Page: " + n
		}
		return "Connection successful!"
	})
}

func (a *FacebookAdapter) Deliver(ctx context.Context, m model.Message, creds model.Credentials) Result {
	if creds.AccessToken == "" {
		return Failure(CodeAuthFailed, "facebook page access token is missing")
	}

	to, err := a.NormalizeRecipient(m.Recipient)
	if err != nil {
		return Failure(CodeInvalidRecipient, "%v", err)
	}

	body, err := messengerBody(m, to)
	if err != nil {
		return Failure(CodeInvalidRequest, "%v", err)
	}

	page := creds.PageID
	if page == "" {
		page = "me"
	}

	return a.graph.send(ctx, graphRequest{
		method: http.MethodPost,
		url:    endpoint(creds, defaultFacebookGraphURL, page, "messages"),
		query:  map[string][]string{"access_token": {creds.AccessToken}},
		body:   body,
	}, "message_id")
}

// InstagramAdapter sends direct messages through the Instagram API with
// Instagram Login. The body matches Messenger; auth is a bearer token.
type InstagramAdapter struct {
	graph *graphClient
}

func NewInstagramAdapter(g *graphClient) *InstagramAdapter {
	return &InstagramAdapter{graph: g}
}

func (a *InstagramAdapter) Platform() model.Platform { return model.Instagram }

func (a *InstagramAdapter) Supports(t model.MessageType) bool { return messengerSupports(t) }

func (a *InstagramAdapter) NormalizeRecipient(recipient string) (string, error) {
	return normalizeScopedID(model.Instagram, recipient)
}

func (a *InstagramAdapter) TestConnection(ctx context.Context, creds model.Credentials) ConnectionStatus {
	if creds.AccessToken == "" {
		return ConnectionStatus{Detail: "access token is required"}
	}

	return a.graph.probe(ctx, graphRequest{
		method: http.MethodGet,
		url:    endpoint(creds, defaultInstagramGraphURL, "me"),
		bearer: creds.AccessToken,
		query:  map[string][]string{"fields": {"user_id,username"}},
	}, func(r gjson.Result) string {
		if n := r.Get("username").String(); n != "" {
			return "Connection successful! Account: @" + n
		}
		return "Connection successful!"
	})
}

func (a *InstagramAdapter) Deliver(ctx context.Context, m model.Message, creds model.Credentials) Result {
	if creds.AccessToken == "" {
		return Failure(CodeAuthFailed, "instagram access token is missing")
	}

	to, err := a.NormalizeRecipient(m.Recipient)
	if err != nil {
		return Failure(CodeInvalidRecipient, "%v", err)
	}

	body, err := messengerBody(m, to)
	if err != nil {
		return Failure(CodeInvalidRequest, "%v", err)
	}

	return a.graph.send(ctx, graphRequest{
		method: http.MethodPost,
		url:    endpoint(creds, defaultInstagramGraphURL, "me", "messages"),
		bearer: creds.AccessToken,
		body:   body,
	}, "message_id")
}

func messengerSupports(t model.MessageType) bool {
	return t == model.Text || t == model.Media
}

const maxScopedIDLength = 128

// normalizeScopedID checks an opaque page or app scoped user id.
func normalizeScopedID(p model.Platform, recipient string) (string, error) {
	id := strings.TrimSpace(recipient)
	if id == "" {
		return "", fmt.Errorf("%s recipient id is empty", p)
	}
	if len(id) > maxScopedIDLength || strings.ContainsFunc(id, unicode.IsSpace) {
		return "", fmt.Errorf("%s recipient id %q is malformed", p, recipient)
	}
	if err := validate.Var(id, "printascii"); err != nil {
		return "", fmt.Errorf("%s recipient id %q is malformed", p, recipient)
	}
	return id, nil
}

func messengerBody(m model.Message, to string) ([]byte, error) {
	p := newPayload(`{"messaging_type":"RESPONSE"}`).set("recipient.id", to)

	switch m.MessageType {
	case model.Text:
		p.set("message.text", m.Content)
	case model.Media:
		p.set("message.attachment.type", string(kindOf(m.MediaURL))).
			set("message.attachment.payload.url", m.MediaURL).
			set("message.attachment.payload.is_reusable", true)
	default:
		return nil, fmt.Errorf("unsupported message type %q", m.MessageType)
	}
	return p.bytes()
}
