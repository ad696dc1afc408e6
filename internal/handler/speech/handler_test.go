package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/medlens/backend/internal/service/speech"
)

type fakeBackend struct {
	disabled   bool
	text       string
	recErr     error
	synthErr   error
	synthDelay time.Duration
	lastFormat string
}

func (f *fakeBackend) Enabled() bool { return !f.disabled }

func (f *fakeBackend) Recognize(_ context.Context, _ []byte, format string) (speechmodel.Transcript, error) {
	f.lastFormat = format
	if f.recErr != nil {
		return speechmodel.Transcript{}, f.recErr
	}
	return speechmodel.Transcript{Text: f.text}, nil
}

func (f *fakeBackend) Synthesize(ctx context.Context, text, _ string) (speechmodel.Synthesis, error) {
	if f.synthDelay > 0 {
		select {
		case <-time.After(f.synthDelay):
		case <-ctx.Done():
			return speechmodel.Synthesis{}, ctx.Err()
		}
	}
	if f.synthErr != nil {
		return speechmodel.Synthesis{}, f.synthErr
	}
	return speechmodel.Synthesis{Audio: []byte("mp3:" + text), Format: "mp3"}, nil
}

func newRouter(backend Backend) *chi.Mux {
	r := chi.NewRouter()
	New(backend, nil, nil).RegisterRoutes(r)
	return r
}

func transcribeRequest(t *testing.T, filename string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("audio")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestTranscribe(t *testing.T) {
	backend := &fakeBackend{text: "what is this"}
	resp := httptest.NewRecorder()
	newRouter(backend).ServeHTTP(resp, transcribeRequest(t, "clip.mp3"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var got map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &got)
	if got["text"] != "what is this" {
		t.Fatalf("unexpected body %v", got)
	}
	if backend.lastFormat != "mp3" {
		t.Fatalf("expected mp3 format, got %s", backend.lastFormat)
	}
}

func TestTranscribeErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		want    int
	}{
		{"unintelligible", &fakeBackend{recErr: speechsvc.ErrUnintelligible}, http.StatusUnprocessableEntity},
		{"unavailable", &fakeBackend{recErr: speechsvc.ErrServiceUnavailable}, http.StatusServiceUnavailable},
		{"disabled", &fakeBackend{disabled: true}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			newRouter(tt.backend).ServeHTTP(resp, transcribeRequest(t, "clip.wav"))
			if resp.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.Code)
			}
		})
	}
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"ok"}`)))
	resp := httptest.NewRecorder()
	newRouter(&fakeBackend{}).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "audio/mp3" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if resp.Body.String() != "mp3:ok" {
		t.Fatalf("unexpected audio %q", resp.Body.String())
	}
}

func TestSynthesizeFailures(t *testing.T) {
	cases := map[string]struct {
		backend *fakeBackend
		body    string
		want    int
	}{
		"empty text": {&fakeBackend{}, `{"text":" "}`, http.StatusBadRequest},
		"backend":    {&fakeBackend{synthErr: speechsvc.ErrSynthesis}, `{"text":"hi"}`, http.StatusBadGateway},
		"disabled":   {&fakeBackend{synthErr: speechsvc.ErrDisabled}, `{"text":"hi"}`, http.StatusServiceUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(tc.body)))
			resp := httptest.NewRecorder()
			newRouter(tc.backend).ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}

func TestHealthAndMissingWebsocket(t *testing.T) {
	r := newRouter(&fakeBackend{disabled: true})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/speech/health", nil))
	var health map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &health)
	if health["status"] != "disabled" || health["voiceTurn"] != false {
		t.Fatalf("unexpected health %v", health)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/speech/ws/abc", nil))
	if resp.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.Code)
	}
}
