package cache

import (
	"context"
	"time"
)

// SentRecord is the provider acknowledgement kept for a delivered message.
type SentRecord struct {
	ProviderMessageID string    `json:"providerMessageId"`
	SentAt            time.Time `json:"sentAt"`
}

type MessageCache interface {
	StoreSent(ctx context.Context, messageID string, providerMessageID string, sentAt time.Time) error
	// LookupSent returns ok=false when no record exists for messageID.
	LookupSent(ctx context.Context, messageID string) (rec SentRecord, ok bool, err error)
}
