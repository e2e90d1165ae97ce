package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeventeLantos/social-dispatch/internal/api"
	"github.com/LeventeLantos/social-dispatch/internal/model"
)

func TestAPIClient_Create(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath, gotContentType string
	var gotBody api.CreateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"message":"Send Message created successfully","data":{"id":"abc","status":"draft"}}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL+"/", time.Second)

	res, err := c.Create(context.Background(), api.CreateRequest{
		Platform:        "whatsapp",
		Recipient:       "+15551234567",
		MessageType:     "text",
		Content:         "hi",
		SendImmediately: true,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if !res.Success || res.Data == nil || res.Data.ID != "abc" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if gotMethod != http.MethodPost || gotPath != "/v1/messages" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", gotContentType)
	}
	if gotBody.Recipient != "+15551234567" || !gotBody.SendImmediately {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
}

func TestAPIClient_SendRetryPaths(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"success":false,"message":"Failed to send message: rate_limited: slow down"}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, time.Second)
	ctx := context.Background()

	res, err := c.Send(ctx, "m1")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if res.Success || !strings.Contains(res.Message, "rate_limited") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := c.Retry(ctx, "m1"); err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	if _, err := c.TestConnection(ctx, "facebook"); err != nil {
		t.Fatalf("TestConnection() error: %v", err)
	}

	want := []string{
		"POST /v1/messages/m1/send",
		"POST /v1/messages/m1/retry",
		"POST /v1/connections/facebook/test",
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestAPIClient_RejectionKeepsResultAndReturnsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"message":"Can only retry failed messages"}`))
	}))
	defer srv.Close()

	res, err := NewAPIClient(srv.URL, time.Second).Retry(context.Background(), "m1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "Can only retry failed messages" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if res.Success || res.Message != "Can only retry failed messages" {
		t.Fatalf("expected decoded result, got %+v", res)
	}
}

func TestAPIClient_NonJSONError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL, time.Second).Get(context.Background(), "m1")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("expected status and body in error, got: %v", err)
	}
}

func TestAPIClient_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("THIS IS NOT JSON"))
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL, time.Second).Get(context.Background(), "m1")
	if err == nil || !strings.Contains(err.Error(), "failed to decode json") {
		t.Fatalf("expected decode error, got: %v", err)
	}
}

func TestAPIClient_ListQuery(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"items":[{"id":"a","platform":"facebook","status":"failed"}]}`))
	}))
	defer srv.Close()

	items, err := NewAPIClient(srv.URL, time.Second).List(context.Background(), ListOptions{
		Platform: "facebook",
		Status:   "failed",
		Limit:    5,
	})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(items) != 1 || items[0].Platform != model.Facebook {
		t.Fatalf("unexpected items: %+v", items)
	}
	if gotQuery != "limit=5&platform=facebook&status=failed" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestAPIClient_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewAPIClient(srv.URL, time.Second).Send(ctx, "m1")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "deadline") &&
		!strings.Contains(strings.ToLower(err.Error()), "context") {
		t.Fatalf("expected context/deadline error, got: %v", err)
	}
}
