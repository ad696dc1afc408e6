package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/medlens/backend/internal/service/ai/aitest"
	chatservice "github.com/zhouzirui/medlens/backend/internal/service/chat"
)

type halfCondenser struct{}

func (halfCondenser) Condense(_ context.Context, full string) string {
	first, _, _ := strings.Cut(full, ".")
	return first + "."
}

func setup(t *testing.T, replies ...aitest.Reply) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	chatSvc, err := chatservice.NewService(aitest.New(replies...), halfCondenser{}, 0)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	r := chi.NewRouter()
	New(chatSvc).RegisterRoutes(r)
	return r, chatSvc
}

func TestStreamEmitsEventsInOrder(t *testing.T) {
	r, chatSvc := setup(t, aitest.Text("Rest well. Drink fluids. See a doctor."))
	session, _ := chatSvc.CreateSession(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/stream/"+session.ID()+"?message=what+now", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	body := resp.Body.String()
	order := []string{"event: status", "event: message", "event: summary", "event: end"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(body, marker)
		if idx <= last {
			t.Fatalf("event %q missing or out of order in %q", marker, body)
		}
		last = idx
	}
	if !strings.Contains(body, `"content":"Rest well. Drink fluids. See a doctor."`) {
		t.Fatalf("full answer missing: %s", body)
	}
	if !strings.Contains(body, `"content":"Rest well."`) {
		t.Fatalf("summary missing: %s", body)
	}
}

func TestStreamRequiresMessageAndSession(t *testing.T) {
	r, chatSvc := setup(t)
	session, _ := chatSvc.CreateSession(context.Background())

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream/"+session.ID(), nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream/unknown?message=hi", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
