package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/social-dispatch/internal/cache"
	"github.com/LeventeLantos/social-dispatch/internal/model"
	"github.com/LeventeLantos/social-dispatch/internal/provider"
	"github.com/LeventeLantos/social-dispatch/internal/repo"
)

const (
	tracerName             = "github.com/LeventeLantos/social-dispatch/internal/service"
	defaultDeliveryTimeout = 15 * time.Second
)

type CredentialSource interface {
	Get(p model.Platform) (model.Credentials, error)
	TestConnection(ctx context.Context, p model.Platform) provider.ConnectionStatus
}

type AdapterSource interface {
	Get(p model.Platform) (provider.Adapter, bool)
}

// Dispatcher owns the message status machine. Every status change goes
// through a conditional store update, so at most one attempt per message is
// in flight no matter how many callers race.
type Dispatcher struct {
	messages repo.MessageRepository
	creds    CredentialSource
	adapters AdapterSource
	logger   *slog.Logger

	sent            cache.MessageCache
	tracer          trace.Tracer
	deliveryTimeout time.Duration
	now             func() time.Time
}

func NewDispatcher(messages repo.MessageRepository, creds CredentialSource, adapters AdapterSource, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		messages:        messages,
		creds:           creds,
		adapters:        adapters,
		logger:          logger,
		tracer:          otel.Tracer(tracerName),
		deliveryTimeout: defaultDeliveryTimeout,
		now:             time.Now,
	}
}

// WithCache records provider acknowledgements in c before the completion
// write, so a message left in sending can still be reconciled.
func (d *Dispatcher) WithCache(c cache.MessageCache) *Dispatcher {
	d.sent = c
	return d
}

func (d *Dispatcher) WithDeliveryTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.deliveryTimeout = timeout
	}
	return d
}

func (d *Dispatcher) WithTracer(t trace.Tracer) *Dispatcher {
	if t != nil {
		d.tracer = t
	}
	return d
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type draftFields struct {
	Platform    string `validate:"required,oneof=whatsapp facebook instagram"`
	Recipient   string `validate:"required,max=128"`
	MessageType string `validate:"required,oneof=text media template"`
}

// Create stores m as a new draft. The platform, recipient and type are
// checked here, and only the content fields of the type may be set. Whether
// the selected content is usable is checked when the message is sent.
func (d *Dispatcher) Create(ctx context.Context, m model.Message) (model.Message, error) {
	if p, err := model.ParsePlatform(string(m.Platform)); err == nil {
		m.Platform = p
	}
	m.Recipient = strings.TrimSpace(m.Recipient)

	err := validate.Struct(draftFields{
		Platform:    string(m.Platform),
		Recipient:   m.Recipient,
		MessageType: string(m.MessageType),
	})
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return model.Message{}, invalid(snakeCase(fe.Field()), "failed %q check", fe.Tag())
	}
	if err != nil {
		return model.Message{}, err
	}
	if err := checkExclusiveContent(m); err != nil {
		return model.Message{}, err
	}

	id, err := d.messages.Create(ctx, &m)
	if err != nil {
		return model.Message{}, fmt.Errorf("create message: %w", err)
	}

	d.logger.Info("message created",
		"message_id", id,
		"platform", m.Platform,
		"type", m.MessageType,
		"recipient", maskRecipient(m.Recipient),
	)
	return d.messages.Get(ctx, id)
}

func (d *Dispatcher) Get(ctx context.Context, id string) (model.Message, error) {
	return d.messages.Get(ctx, id)
}

func (d *Dispatcher) List(ctx context.Context, f repo.Filter) ([]model.Message, error) {
	return d.messages.List(ctx, f)
}

// Send makes the first delivery attempt of a draft message.
//
// A delivery failure is not an error: the returned message is Failed and
// carries LastError. Errors are reserved for rejections (ErrInvalidState,
// ErrValidation, credentials.ErrNotConfigured, repo.ErrNotFound) and for
// store failures.
func (d *Dispatcher) Send(ctx context.Context, id string) (model.Message, error) {
	return d.dispatch(ctx, "send", id, model.Draft)
}

// Retry makes another attempt on a Failed message with its original
// content.
func (d *Dispatcher) Retry(ctx context.Context, id string) (model.Message, error) {
	return d.dispatch(ctx, "retry", id, model.Failed)
}

func (d *Dispatcher) dispatch(ctx context.Context, op, id string, from model.Status) (model.Message, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch."+op, trace.WithAttributes(
		attribute.String("message.id", id),
	))
	defer span.End()

	m, err := d.messages.Get(ctx, id)
	if err != nil {
		return d.reject(span, model.Message{}, err)
	}
	span.SetAttributes(attribute.String("message.platform", string(m.Platform)))

	if m.Status != from {
		return d.reject(span, m, fmt.Errorf("%w: cannot %s a message in status %q", ErrInvalidState, op, m.Status))
	}

	adapter, ok := d.adapters.Get(m.Platform)
	if !ok {
		return d.reject(span, m, invalid("platform", "no adapter for %q", m.Platform))
	}

	outbound, err := checkContent(m, adapter)
	if err != nil {
		return d.reject(span, m, err)
	}

	creds, err := d.creds.Get(m.Platform)
	if err != nil {
		return d.reject(span, m, err)
	}

	sending := model.Sending
	claimed, err := d.messages.Update(ctx, id, from, repo.Patch{Status: &sending, IncrementAttempts: true})
	if errors.Is(err, repo.ErrStatusConflict) {
		return d.reject(span, m, fmt.Errorf("%w: message %s is already being dispatched", ErrInvalidState, id))
	}
	if err != nil {
		return d.reject(span, m, fmt.Errorf("claim message %s: %w", id, err))
	}
	span.SetAttributes(attribute.Int("message.attempt", claimed.AttemptCount))

	// The caller going away must not strand the message in sending.
	attemptCtx := context.WithoutCancel(ctx)

	outbound.AttemptCount = claimed.AttemptCount
	res := d.deliver(attemptCtx, adapter, outbound, creds)

	return d.complete(attemptCtx, span, claimed, res)
}

func (d *Dispatcher) reject(span trace.Span, m model.Message, err error) (model.Message, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.logger.Debug("dispatch rejected", "message_id", m.ID, "error", err)
	return m, err
}

func (d *Dispatcher) deliver(ctx context.Context, a provider.Adapter, m model.Message, creds model.Credentials) (res provider.Result) {
	ctx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("adapter panic recovered", "message_id", m.ID, "platform", m.Platform, "panic", r)
			res = provider.Failure(provider.CodeInternal, "adapter panic: %v", r)
		}
	}()

	start := time.Now()
	res = a.Deliver(ctx, m, creds)
	d.logger.Debug("provider call finished",
		"message_id", m.ID,
		"platform", m.Platform,
		"success", res.Success,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func (d *Dispatcher) complete(ctx context.Context, span trace.Span, m model.Message, res provider.Result) (model.Message, error) {
	if res.Success && res.ProviderMessageID == "" {
		res = provider.Failure(provider.CodeInvalidResponse, "provider accepted the message without returning an id")
	}
	if !res.Success && res.ErrorCode == "" {
		res.ErrorCode = provider.CodeInternal
	}

	now := d.now().UTC()
	var patch repo.Patch
	if res.Success {
		st := model.Sent
		pid := res.ProviderMessageID
		patch = repo.Patch{Status: &st, ProviderMessageID: &pid, ClearLastError: true, SentAt: &now}

		if d.sent != nil {
			if err := d.sent.StoreSent(ctx, m.ID, pid, now); err != nil {
				d.logger.Warn("failed to cache sent record", "message_id", m.ID, "error", err)
			}
		}
	} else {
		st := model.Failed
		patch = repo.Patch{Status: &st, LastError: &model.ProviderError{Code: res.ErrorCode, Message: res.ErrorMessage}}
	}

	out, err := d.messages.Update(ctx, m.ID, model.Sending, patch)
	if err != nil {
		d.logger.Error("failed to record delivery outcome; message left in sending",
			"message_id", m.ID,
			"provider_success", res.Success,
			"provider_message_id", res.ProviderMessageID,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "outcome not recorded")
		return m, fmt.Errorf("record outcome of message %s: %w", m.ID, err)
	}

	if res.Success {
		span.SetAttributes(attribute.String("provider.message_id", res.ProviderMessageID))
		d.logger.Info("message sent",
			"message_id", out.ID,
			"platform", out.Platform,
			"recipient", maskRecipient(out.Recipient),
			"attempt", out.AttemptCount,
			"provider_message_id", res.ProviderMessageID,
		)
	} else {
		span.SetAttributes(attribute.String("provider.error_code", res.ErrorCode))
		span.SetStatus(codes.Error, res.ErrorCode)
		d.logger.Warn("message delivery failed",
			"message_id", out.ID,
			"platform", out.Platform,
			"recipient", maskRecipient(out.Recipient),
			"attempt", out.AttemptCount,
			"error_code", res.ErrorCode,
			"error", res.ErrorMessage,
		)
	}
	return out, nil
}

// checkExclusiveContent rejects content fields that do not belong to the
// message type. Media messages carry no caption.
func checkExclusiveContent(m model.Message) error {
	populated := []struct {
		field string
		set   bool
		owner model.MessageType
	}{
		{"content", m.Content != "", model.Text},
		{"media_url", m.MediaURL != "", model.Media},
		{"template_name", m.TemplateName != "", model.Template},
		{"template_language", m.TemplateLanguage != "", model.Template},
		{"template_params", len(m.TemplateParams) > 0, model.Template},
	}
	for _, f := range populated {
		if f.set && f.owner != m.MessageType {
			return invalid(f.field, "not allowed on %q messages", m.MessageType)
		}
	}
	return nil
}

// checkContent validates m for its adapter and returns the copy handed to
// the provider, with the recipient normalized.
func checkContent(m model.Message, a provider.Adapter) (model.Message, error) {
	if !a.Supports(m.MessageType) {
		return m, invalid("message_type", "%q messages are not supported on %s", m.MessageType, m.Platform)
	}

	switch m.MessageType {
	case model.Text:
		if strings.TrimSpace(m.Content) == "" {
			return m, invalid("content", "text message has no content")
		}
	case model.Media:
		if strings.TrimSpace(m.MediaURL) == "" {
			return m, invalid("media_url", "media message has no media url")
		}
		if err := validate.Var(m.MediaURL, "http_url"); err != nil {
			return m, invalid("media_url", "%q is not an http(s) url", m.MediaURL)
		}
	case model.Template:
		if strings.TrimSpace(m.TemplateName) == "" {
			return m, invalid("template_name", "template message has no template name")
		}
	default:
		return m, invalid("message_type", "unknown message type %q", m.MessageType)
	}

	to, err := a.NormalizeRecipient(m.Recipient)
	if err != nil {
		return m, invalid("recipient", "%v", err)
	}
	m.Recipient = to
	return m, nil
}

// TestConnection checks the credentials of p. It never touches messages.
func (d *Dispatcher) TestConnection(ctx context.Context, p model.Platform) provider.ConnectionStatus {
	ctx, span := d.tracer.Start(ctx, "connection.test", trace.WithAttributes(
		attribute.String("platform", string(p)),
	))
	defer span.End()

	st := d.creds.TestConnection(ctx, p)
	if !st.Success {
		span.SetStatus(codes.Error, st.Detail)
	}
	d.logger.Info("connection test", "platform", p, "success", st.Success, "detail", st.Detail)
	return st
}

// TestAllConnections checks every known platform concurrently.
func (d *Dispatcher) TestAllConnections(ctx context.Context) map[model.Platform]provider.ConnectionStatus {
	results := make([]provider.ConnectionStatus, len(model.Platforms))

	var g errgroup.Group
	for i, p := range model.Platforms {
		g.Go(func() error {
			results[i] = d.TestConnection(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[model.Platform]provider.ConnectionStatus, len(results))
	for i, p := range model.Platforms {
		out[p] = results[i]
	}
	return out
}

// maskRecipient keeps the first two and last four characters.
func maskRecipient(r string) string {
	rs := []rune(r)
	if len(rs) <= 6 {
		return strings.Repeat("*", len(rs))
	}
	return string(rs[:2]) + strings.Repeat("*", len(rs)-6) + string(rs[len(rs)-4:])
}

func snakeCase(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
