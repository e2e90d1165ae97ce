package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/LeventeLantos/social-dispatch/internal/model"
)

const (
	defaultFacebookGraphURL = "https://graph.facebook.com"
	defaultTemplateLanguage = "en_US"
)

// WhatsAppAdapter talks to the WhatsApp Cloud API.
type WhatsAppAdapter struct {
	graph *graphClient
}

func NewWhatsAppAdapter(g *graphClient) *WhatsAppAdapter {
	return &WhatsAppAdapter{graph: g}
}

func (a *WhatsAppAdapter) Platform() model.Platform { return model.WhatsApp }

func (a *WhatsAppAdapter) Supports(t model.MessageType) bool {
	switch t {
	case model.Text, model.Media, model.Template:
		return true
	}
	return false
}

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizeRecipient strips common separators and returns the number in
// E.164 form. A leading international 00 prefix is rewritten to +.
// Country codes never start with 0, which the e164 tag alone lets through.
func (a *WhatsAppAdapter) NormalizeRecipient(recipient string) (string, error) {
	n := phoneSeparators.Replace(strings.TrimSpace(recipient))
	if strings.HasPrefix(n, "00") {
		n = "+" + n[2:]
	}
	if err := validate.Var(n, "required,e164"); err != nil || n[1] == '0' {
		return "", fmt.Errorf("whatsapp recipient %q is not an E.164 phone number", recipient)
	}
	return n, nil
}

func (a *WhatsAppAdapter) TestConnection(ctx context.Context, creds model.Credentials) ConnectionStatus {
	if creds.AccessToken == "" || creds.PhoneNumberID == "" {
		return ConnectionStatus{Detail: "access token and phone number id are required"}
	}

	return a.graph.probe(ctx, graphRequest{
		method: http.MethodGet,
		url:    endpoint(creds, defaultFacebookGraphURL, creds.PhoneNumberID),
		bearer: creds.AccessToken,
		query:  map[string][]string{"fields": {"display_phone_number,verified_name"}},
	}, func(r gjson.Result) string {
		if n := r.Get("display_phone_number").String(); n != "" {
			return "Connection successful! Phone Number: " + n
		}
		return "Connection successful!"
	})
}

func (a *WhatsAppAdapter) Deliver(ctx context.Context, m model.Message, creds model.Credentials) Result {
	if creds.AccessToken == "" || creds.PhoneNumberID == "" {
		return Failure(CodeAuthFailed, "whatsapp credentials are incomplete")
	}

	to, err := a.NormalizeRecipient(m.Recipient)
	if err != nil {
		return Failure(CodeInvalidRecipient, "%v", err)
	}

	body, err := a.body(m, to)
	if err != nil {
		return Failure(CodeInvalidRequest, "%v", err)
	}

	return a.graph.send(ctx, graphRequest{
		method: http.MethodPost,
		url:    endpoint(creds, defaultFacebookGraphURL, creds.PhoneNumberID, "messages"),
		bearer: creds.AccessToken,
		body:   body,
	}, "messages.0.id")
}

func (a *WhatsAppAdapter) body(m model.Message, to string) ([]byte, error) {
	p := newPayload(`{"messaging_product":"whatsapp","recipient_type":"individual"}`).
		set("to", to)

	switch m.MessageType {
	case model.Text:
		p.set("type", "text").set("text.body", m.Content)
	case model.Media:
		kind := string(kindOf(m.MediaURL))
		if kind == string(kindFile) {
			kind = "document"
		}
		p.set("type", kind).set(kind+".link", m.MediaURL)
	case model.Template:
		lang := m.TemplateLanguage
		if lang == "" {
			lang = defaultTemplateLanguage
		}
		p.set("type", "template").
			set("template.name", m.TemplateName).
			set("template.language.code", lang)
		if len(m.TemplateParams) > 0 {
			params := make([]map[string]string, 0, len(m.TemplateParams))
			for _, v := range m.TemplateParams {
				params = append(params, map[string]string{"type": "text", "text": v})
			}
			p.set("template.components", []map[string]any{
				{"type": "body", "parameters": params},
			})
		}
	default:
		return nil, fmt.Errorf("unsupported message type %q", m.MessageType)
	}
	return p.bytes()
}
