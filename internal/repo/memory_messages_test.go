package repo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeventeLantos/social-dispatch/internal/model"
)

func newDraft(t *testing.T, r *MemoryMessageRepo, p model.Platform) model.Message {
	t.Helper()

	m := &model.Message{
		Platform:    p,
		Recipient:   "+15551234567",
		MessageType: model.Text,
		Content:     "hello",
	}
	id, err := r.Create(context.Background(), m)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if id == "" || id != m.ID {
		t.Fatalf("expected id to be assigned, got %q / %q", id, m.ID)
	}
	return *m
}

func TestMemoryRepo_CreateAssignsDraftDefaults(t *testing.T) {
	r := NewMemoryMessageRepo()
	m := newDraft(t, r, model.WhatsApp)

	got, err := r.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != model.Draft {
		t.Fatalf("expected draft, got %q", got.Status)
	}
	if got.AttemptCount != 0 || got.LastError != nil || got.ProviderMessageID != nil {
		t.Fatalf("unexpected lifecycle fields: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}
}

func TestMemoryRepo_GetUnknown(t *testing.T) {
	r := NewMemoryMessageRepo()

	_, err := r.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepo_UpdateGuardsOnStatus(t *testing.T) {
	r := NewMemoryMessageRepo()
	m := newDraft(t, r, model.Facebook)
	ctx := context.Background()

	sending := model.Sending
	got, err := r.Update(ctx, m.ID, model.Draft, Patch{Status: &sending, IncrementAttempts: true})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got.Status != model.Sending || got.AttemptCount != 1 {
		t.Fatalf("unexpected message after update: %+v", got)
	}

	_, err = r.Update(ctx, m.ID, model.Draft, Patch{Status: &sending, IncrementAttempts: true})
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	stored, _ := r.Get(ctx, m.ID)
	if stored.AttemptCount != 1 {
		t.Fatalf("conflicting update must not change the message, got attempt_count=%d", stored.AttemptCount)
	}

	_, err = r.Update(ctx, "missing", model.Draft, Patch{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepo_UpdateConcurrentCompareAndSwap(t *testing.T) {
	r := NewMemoryMessageRepo()
	m := newDraft(t, r, model.Instagram)

	var (
		wg   sync.WaitGroup
		wins atomic.Int64
	)
	sending := model.Sending
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Update(context.Background(), m.ID, model.Draft, Patch{Status: &sending, IncrementAttempts: true}); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestMemoryRepo_UpdateSetsAndClearsError(t *testing.T) {
	r := NewMemoryMessageRepo()
	m := newDraft(t, r, model.WhatsApp)
	ctx := context.Background()

	sending, failed, sent := model.Sending, model.Failed, model.Sent
	if _, err := r.Update(ctx, m.ID, model.Draft, Patch{Status: &sending}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	got, err := r.Update(ctx, m.ID, model.Sending, Patch{
		Status:    &failed,
		LastError: &model.ProviderError{Code: "timeout", Message: "deadline"},
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got.LastError == nil || got.LastError.Code != "timeout" {
		t.Fatalf("expected last_error timeout, got %+v", got.LastError)
	}

	if _, err := r.Update(ctx, m.ID, model.Failed, Patch{Status: &sending}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	remote := "wamid.1"
	now := time.Now()
	got, err = r.Update(ctx, m.ID, model.Sending, Patch{
		Status:            &sent,
		ProviderMessageID: &remote,
		ClearLastError:    true,
		SentAt:            &now,
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if got.LastError != nil {
		t.Fatalf("expected last_error cleared, got %+v", got.LastError)
	}
	if got.ProviderMessageID == nil || *got.ProviderMessageID != remote {
		t.Fatalf("expected provider id %q, got %v", remote, got.ProviderMessageID)
	}
	if got.SentAt == nil {
		t.Fatalf("expected sent_at to be set")
	}
}

func TestMemoryRepo_ListFiltersAndPaginates(t *testing.T) {
	r := NewMemoryMessageRepo()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for i := 0; i < 3; i++ {
		newDraft(t, r, model.WhatsApp)
	}
	fb := newDraft(t, r, model.Facebook)

	all, err := r.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(all))
	}
	if all[0].ID != fb.ID {
		t.Fatalf("expected newest first, got %q", all[0].ID)
	}

	wa, err := r.List(ctx, Filter{Platform: model.WhatsApp, Limit: 2})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(wa) != 2 {
		t.Fatalf("expected 2 whatsapp messages, got %d", len(wa))
	}

	rest, err := r.List(ctx, Filter{Platform: model.WhatsApp, Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining whatsapp message, got %d", len(rest))
	}

	none, err := r.List(ctx, Filter{Status: model.Sent})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no sent messages, got %d", len(none))
	}

	old, err := r.List(ctx, Filter{UpdatedBefore: base.Add(2*time.Minute + time.Second)})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(old) != 2 {
		t.Fatalf("expected 2 messages updated before cutoff, got %d", len(old))
	}
}
