package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/LeventeLantos/social-dispatch/internal/credentials"
	"github.com/LeventeLantos/social-dispatch/internal/model"
	"github.com/LeventeLantos/social-dispatch/internal/provider"
	"github.com/LeventeLantos/social-dispatch/internal/repo"
	"github.com/LeventeLantos/social-dispatch/internal/scheduler"
	"github.com/LeventeLantos/social-dispatch/internal/service"
)

// MessageService is the part of service.Dispatcher the HTTP surface uses.
type MessageService interface {
	Create(ctx context.Context, m model.Message) (model.Message, error)
	Get(ctx context.Context, id string) (model.Message, error)
	List(ctx context.Context, f repo.Filter) ([]model.Message, error)
	Send(ctx context.Context, id string) (model.Message, error)
	Retry(ctx context.Context, id string) (model.Message, error)
	TestConnection(ctx context.Context, p model.Platform) provider.ConnectionStatus
	TestAllConnections(ctx context.Context) map[model.Platform]provider.ConnectionStatus
}

type Handler struct {
	messages MessageService
	sched    *scheduler.Scheduler
	logger   *slog.Logger
}

// NewHandler wires the handlers. sched may be nil when no retry policy is
// configured.
func NewHandler(messages MessageService, sched *scheduler.Scheduler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{messages: messages, sched: sched, logger: logger}
}

// Result is the body of every send, retry and connection test call.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    *model.Message `json:"data,omitempty"`
}

type CreateRequest struct {
	Platform         string   `json:"platform"`
	Recipient        string   `json:"recipient"`
	MessageType      string   `json:"message_type"`
	Content          string   `json:"content,omitempty"`
	MediaURL         string   `json:"media_url,omitempty"`
	TemplateName     string   `json:"template_name,omitempty"`
	TemplateLanguage string   `json:"template_language,omitempty"`
	TemplateParams   []string `json:"template_params,omitempty"`
	SendImmediately  bool     `json:"send_immediately,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireScheduler(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	if !h.requireScheduler(w) {
		return
	}
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	if !h.requireScheduler(w) {
		return
	}
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) requireScheduler(w http.ResponseWriter) bool {
	if h.sched == nil {
		writeJSON(w, http.StatusNotFound, Result{Message: "retry scheduler is not configured"})
		return false
	}
	return true
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Result{Message: "invalid request body: " + err.Error()})
		return
	}

	m, err := h.messages.Create(r.Context(), model.Message{
		Platform:         model.Platform(req.Platform),
		Recipient:        req.Recipient,
		MessageType:      model.MessageType(req.MessageType),
		Content:          req.Content,
		MediaURL:         req.MediaURL,
		TemplateName:     req.TemplateName,
		TemplateLanguage: req.TemplateLanguage,
		TemplateParams:   req.TemplateParams,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if !req.SendImmediately {
		writeJSON(w, http.StatusCreated, Result{Success: true, Message: "Send Message created successfully", Data: &m})
		return
	}

	// The draft exists even when the send is rejected, so the answer
	// carries it for a later send.
	sent, err := h.messages.Send(r.Context(), m.ID)
	if err != nil {
		h.writeErrorWithData(w, err, &m)
		return
	}
	writeJSON(w, http.StatusCreated, attemptResult(sent))
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.messages.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := repo.Filter{
		Status:    model.Status(q.Get("status")),
		Recipient: q.Get("recipient"),
		Limit:     parseInt(q.Get("limit"), 50),
		Offset:    parseInt(q.Get("offset"), 0),
	}
	if raw := q.Get("platform"); raw != "" {
		p, err := model.ParsePlatform(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Result{Message: err.Error()})
			return
		}
		f.Platform = p
	}
	if f.Status != "" && !f.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, Result{Message: fmt.Sprintf("unknown status %q", f.Status)})
		return
	}

	items, err := h.messages.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// SendMessage is send_message: the first attempt of a draft.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.messages.Send(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attemptResult(m))
}

// RetrySend is retry_send: another attempt on a failed message.
func (h *Handler) RetrySend(w http.ResponseWriter, r *http.Request) {
	m, err := h.messages.Retry(r.Context(), r.PathValue("id"))
	if errors.Is(err, service.ErrInvalidState) {
		writeJSON(w, http.StatusConflict, Result{Message: "Can only retry failed messages"})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attemptResult(m))
}

// TestConnection is test_connection for one platform.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	p, err := model.ParsePlatform(r.PathValue("platform"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Result{Message: err.Error()})
		return
	}

	st := h.messages.TestConnection(r.Context(), p)
	writeJSON(w, http.StatusOK, Result{Success: st.Success, Message: st.Detail})
}

func (h *Handler) TestAllConnections(w http.ResponseWriter, r *http.Request) {
	all := h.messages.TestAllConnections(r.Context())

	items := make(map[model.Platform]Result, len(all))
	for p, st := range all {
		items[p] = Result{Success: st.Success, Message: st.Detail}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

var platformNames = map[model.Platform]string{
	model.WhatsApp:  "WhatsApp",
	model.Facebook:  "Facebook",
	model.Instagram: "Instagram",
}

// attemptResult reports success only for a message that ended Sent.
func attemptResult(m model.Message) Result {
	if m.Status == model.Sent {
		return Result{Success: true, Message: platformNames[m.Platform] + " message sent successfully", Data: &m}
	}

	msg := "Failed to send message"
	if m.LastError != nil {
		msg += ": " + m.LastError.Error()
	}
	return Result{Message: msg, Data: &m}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeErrorWithData(w, err, nil)
}

func (h *Handler) writeErrorWithData(w http.ResponseWriter, err error, data *model.Message) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, repo.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, credentials.ErrNotConfigured):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidState):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, Result{Message: err.Error(), Data: data})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
