package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/social-dispatch/internal/model"
)

var (
	ErrNotFound       = errors.New("message not found")
	ErrStatusConflict = errors.New("message status changed concurrently")
)

// Patch is a partial update applied by Update. Nil fields are left untouched.
type Patch struct {
	Status            *model.Status
	IncrementAttempts bool
	ProviderMessageID *string
	LastError         *model.ProviderError
	ClearLastError    bool
	SentAt            *time.Time
}

type Filter struct {
	Platform      model.Platform
	Status        model.Status
	Recipient     string
	UpdatedBefore time.Time
	Limit         int
	Offset        int
}

type MessageRepository interface {
	Create(ctx context.Context, m *model.Message) (string, error)
	Get(ctx context.Context, id string) (model.Message, error)
	// Update applies p only if the stored status still equals expected.
	// It returns ErrStatusConflict when it does not.
	Update(ctx context.Context, id string, expected model.Status, p Patch) (model.Message, error)
	List(ctx context.Context, f Filter) ([]model.Message, error)
}

const defaultListLimit = 50

func normalizeFilter(f Filter) Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
