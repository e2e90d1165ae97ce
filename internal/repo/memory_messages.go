package repo

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/social-dispatch/internal/model"
)

// MemoryMessageRepo keeps messages in process memory. It is used with
// STORE_DRIVER=memory and in tests.
type MemoryMessageRepo struct {
	mu   sync.Mutex
	msgs map[string]model.Message
	now  func() time.Time
}

func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{
		msgs: make(map[string]model.Message),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryMessageRepo) Create(ctx context.Context, m *model.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	m.ID = uuid.NewString()
	m.Status = model.Draft
	m.AttemptCount = 0
	m.LastError = nil
	m.ProviderMessageID = nil
	m.SentAt = nil
	m.Timestamp = now
	m.UpdatedAt = now

	r.msgs[m.ID] = cloneMessage(*m)
	return m.ID, nil
}

func (r *MemoryMessageRepo) Get(ctx context.Context, id string) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.msgs[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (r *MemoryMessageRepo) Update(ctx context.Context, id string, expected model.Status, p Patch) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.msgs[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	if m.Status != expected {
		return model.Message{}, ErrStatusConflict
	}

	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.IncrementAttempts {
		m.AttemptCount++
	}
	if p.ProviderMessageID != nil {
		s := *p.ProviderMessageID
		m.ProviderMessageID = &s
	}
	if p.ClearLastError {
		m.LastError = nil
	}
	if p.LastError != nil {
		e := *p.LastError
		m.LastError = &e
	}
	if p.SentAt != nil {
		t := *p.SentAt
		m.SentAt = &t
	}
	m.UpdatedAt = r.now()

	r.msgs[id] = m
	return cloneMessage(m), nil
}

func (r *MemoryMessageRepo) List(ctx context.Context, f Filter) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f = normalizeFilter(f)

	r.mu.Lock()
	var out []model.Message
	for _, m := range r.msgs {
		if f.Platform != "" && m.Platform != f.Platform {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Recipient != "" && m.Recipient != f.Recipient {
			continue
		}
		if !f.UpdatedBefore.IsZero() && !m.UpdatedAt.Before(f.UpdatedBefore) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b model.Message) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func cloneMessage(m model.Message) model.Message {
	if m.TemplateParams != nil {
		m.TemplateParams = slices.Clone(m.TemplateParams)
	}
	if m.LastError != nil {
		e := *m.LastError
		m.LastError = &e
	}
	if m.ProviderMessageID != nil {
		s := *m.ProviderMessageID
		m.ProviderMessageID = &s
	}
	if m.SentAt != nil {
		t := *m.SentAt
		m.SentAt = &t
	}
	return m
}
