package model

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	Draft   Status = "draft"
	Sending Status = "sending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case Draft, Sending, Sent, Failed:
		return true
	}
	return false
}

type Platform string

const (
	WhatsApp  Platform = "whatsapp"
	Facebook  Platform = "facebook"
	Instagram Platform = "instagram"
)

var Platforms = []Platform{WhatsApp, Facebook, Instagram}

// ParsePlatform accepts the platform name in any case ("WhatsApp", "whatsapp").
func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", raw)
}

type MessageType string

const (
	Text     MessageType = "text"
	Media    MessageType = "media"
	Template MessageType = "template"
)

// ProviderError is the normalized detail of a failed delivery attempt.
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ProviderError) Error() string {
	return e.Code + ": " + e.Message
}

type Message struct {
	ID          string      `json:"id"`
	Platform    Platform    `json:"platform"`
	Recipient   string      `json:"recipient"`
	MessageType MessageType `json:"message_type"`

	Content          string   `json:"content,omitempty"`
	MediaURL         string   `json:"media_url,omitempty"`
	TemplateName     string   `json:"template_name,omitempty"`
	TemplateLanguage string   `json:"template_language,omitempty"`
	TemplateParams   []string `json:"template_params,omitempty"`

	Status            Status         `json:"status"`
	AttemptCount      int            `json:"attempt_count"`
	LastError         *ProviderError `json:"last_error,omitempty"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty"`

	Timestamp time.Time  `json:"timestamp"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
