package steps

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/testutil"
	"gopkg.in/dnaeon/go-vcr.v2/cassette"
)

func newWebhook(t *testing.T, client *http.Client, opts map[string]any) *Webhook {
	t.Helper()
	s := NewWebhook(client, nil)
	if err := s.SetOptions(opts); err != nil {
		t.Fatalf("SetOptions() error = %v", err)
	}
	return s
}

func TestWebhook_Options(t *testing.T) {
	tests := []struct {
		name string
		opts map[string]any
	}{
		{"missing url", map[string]any{}},
		{"url not string", map[string]any{"url": 1}},
		{"bad timeout", map[string]any{"url": "http://x", "timeout": "soon"}},
		{"negative retries", map[string]any{"url": "http://x", "retries": float64(-1)}},
		{"bad headers", map[string]any{"url": "http://x", "headers": map[string]any{"a": 1}}},
		{"bad forwardHeaders", map[string]any{"url": "http://x", "forwardHeaders": "authorization"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewWebhook(nil, nil).SetOptions(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}

	s := newWebhook(t, nil, map[string]any{"url": "http://x", "timeout": "250ms", "retries": float64(2)})
	if s.timeout != 250*time.Millisecond || s.retries != 2 || s.client == nil {
		t.Errorf("webhook = %+v", s)
	}
}

func TestWebhook_Allow(t *testing.T) {
	var got WebhookInput
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"action":"allow"}`))
	}))
	defer srv.Close()

	s := newWebhook(t, nil, map[string]any{
		"url":     srv.URL,
		"headers": map[string]any{"Authorization": "Bearer t"},
	})
	ec := domain.NewContext("req-1", map[string]any{"q": "x"}, nil, nil)
	ec.Meta.Tenant = "acme"

	if err := s.Execute(context.Background(), ec); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.RequestID != "req-1" || got.Tenant != "acme" || got.Body["q"] != "x" {
		t.Errorf("webhook input = %+v", got)
	}
	if auth != "Bearer t" {
		t.Errorf("Authorization = %q", auth)
	}
	if ec.Body()["q"] != "x" {
		t.Error("allow must not change the body")
	}
}

func TestWebhook_EmptyResponseAllows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := newWebhook(t, nil, map[string]any{"url": srv.URL})
	if err := s.Execute(context.Background(), domain.NewContext("", nil, nil, nil)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestWebhook_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, "oops", "status 500"},
		{"invalid json", http.StatusOK, "{", "unmarshal"},
		{"invalid action", http.StatusOK, `{"action":"explode"}`, "invalid action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s := newWebhook(t, nil, map[string]any{"url": srv.URL})
			err := s.Execute(context.Background(), domain.NewContext("", nil, nil, nil))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestWebhook_Retries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"action":"allow"}`))
	}))
	defer srv.Close()

	s := newWebhook(t, nil, map[string]any{"url": srv.URL, "retries": float64(2)})
	if err := s.Execute(context.Background(), domain.NewContext("", nil, nil, nil)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestWebhook_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	s := newWebhook(t, nil, map[string]any{"url": srv.URL, "timeout": "50ms"})
	start := time.Now()
	if err := s.Execute(context.Background(), domain.NewContext("", nil, nil, nil)); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout not honored")
	}
}

func TestWebhook_ReplayMutateAndDeny(t *testing.T) {
	client := testutil.NewVCRClient(t, "webhook_mutate")

	ec := domain.NewContext("req-vcr", map[string]any{"text": "hello"}, nil, nil)
	ec.Meta.Tenant = "acme"

	enrich := newWebhook(t, client, map[string]any{"url": "https://hooks.example.test/enrich"})
	if err := enrich.Execute(context.Background(), ec); err != nil {
		t.Fatalf("enrich error = %v", err)
	}
	if ec.Body()["lang"] != "en" {
		t.Errorf("body not mutated: %v", ec.Body())
	}
	if v, _ := ec.Meta.Value("enriched"); v != true {
		t.Errorf("meta enriched = %v", v)
	}

	moderate := newWebhook(t, client, map[string]any{"url": "https://hooks.example.test/moderate"})
	err := moderate.Execute(context.Background(), ec)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
	if !strings.Contains(err.Error(), "flagged content") {
		t.Errorf("deny reason missing: %v", err)
	}
}

func TestWebhook_ForwardsOnlyListedHeaders(t *testing.T) {
	var got WebhookInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	headers := map[string]string{
		"Authorization": "Bearer secret",
		"X-Tenant-ID":   "acme",
		"Accept":        "text/plain",
	}

	s := newWebhook(t, nil, map[string]any{"url": srv.URL})
	if err := s.Execute(context.Background(), domain.NewContext("", nil, headers, nil)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(got.Headers) != 0 {
		t.Errorf("headers forwarded without forwardHeaders: %v", got.Headers)
	}

	s = newWebhook(t, nil, map[string]any{
		"url":            srv.URL,
		"forwardHeaders": []any{"X-Tenant-ID", "X-Missing"},
	})
	if err := s.Execute(context.Background(), domain.NewContext("", nil, headers, nil)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(got.Headers) != 1 || got.Headers["x-tenant-id"] != "acme" {
		t.Errorf("forwarded headers = %v, want only x-tenant-id", got.Headers)
	}
}

func TestWebhook_CassetteLoads(t *testing.T) {
	c, err := cassette.Load("testdata/fixtures/webhook_mutate")
	if err != nil {
		t.Fatalf("cassette.Load() error = %v", err)
	}
	if len(c.Interactions) != 2 {
		t.Errorf("interactions = %d, want 2", len(c.Interactions))
	}
}

func TestWebhook_MutateAlongsideParallelReaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"action":"mutate","body":{"text":"rewritten"}}`))
	}))
	defer srv.Close()

	ec := domain.NewContext("req-par", map[string]any{"text": "hello"}, nil, nil)
	hook := newWebhook(t, nil, map[string]any{"url": srv.URL})
	counter := NewTokenCount("")

	done := make(chan error, 4)
	go func() { done <- hook.Execute(context.Background(), ec) }()
	for i := 0; i < 3; i++ {
		go func() { done <- counter.Execute(context.Background(), ec) }()
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if ec.Body()["text"] != "rewritten" {
		t.Errorf("body = %v", ec.Body())
	}
}
