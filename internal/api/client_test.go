package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.Handler, timeout time.Duration) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, timeout, zerolog.Nop()), srv
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.jpg")
	if err := os.WriteFile(path, []byte("jpegdata"), 0o644); err != nil {
		t.Fatalf("failed to write test image: %v", err)
	}
	return path
}

func TestDoDecodesJSONByContentType(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("expected Accept application/json, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if _, err := w.Write([]byte(`{"session_id":"abc123"}`)); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}), 0)

	payload, err := client.do(t.Context(), http.MethodGet, "/exam/start", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		t.Fatalf("expected decoded object, got %T", payload)
	}
	if obj["session_id"] != "abc123" {
		t.Fatalf("unexpected payload: %v", obj)
	}
}

func TestDoReturnsPlainTextBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if _, err := w.Write([]byte("backend alive")); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}), 0)

	payload, err := client.do(t.Context(), http.MethodGet, "/integration/test-flask-connection", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, ok := payload.(string)
	if !ok {
		t.Fatalf("expected text payload, got %T", payload)
	}
	if text != "backend alive" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestDoReportsStatusErrors(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "session expired", http.StatusConflict)
	}), 0)

	_, err := client.do(t.Context(), http.MethodPost, "/exam/finish", "", nil, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusConflict {
		t.Fatalf("expected code 409, got %d", statusErr.Code)
	}
	if !strings.Contains(statusErr.Body, "session expired") {
		t.Fatalf("expected body excerpt, got %q", statusErr.Body)
	}
	if !strings.Contains(statusErr.Error(), srv.URL) {
		t.Fatalf("expected URL in message, got %q", statusErr.Error())
	}
}

func TestDoTruncatesLongErrorBodies(t *testing.T) {
	long := strings.Repeat("x", bodyExcerptLimit*2)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, long, http.StatusInternalServerError)
	}), 0)

	_, err := client.do(t.Context(), http.MethodGet, "/exam/start", "", nil, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if len(statusErr.Body) > bodyExcerptLimit+3 {
		t.Fatalf("expected truncated body, got %d bytes", len(statusErr.Body))
	}
}

func TestDoMarksTimeouts(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}), 50*time.Millisecond)

	_, err := client.do(t.Context(), http.MethodGet, "/exam/start", "", nil, nil)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !transportErr.Timeout {
		t.Fatalf("expected timeout flag, got %v", transportErr)
	}
	if !strings.Contains(transportErr.Error(), "timed out") {
		t.Fatalf("unexpected message: %q", transportErr.Error())
	}
}

func TestDoReportsNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := New(srv.URL, 0, zerolog.Nop())

	_, err := client.do(t.Context(), http.MethodGet, "/exam/start", "", nil, nil)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transportErr.Timeout {
		t.Fatalf("expected non-timeout transport error")
	}
}

func TestMultipartKeepsBoundaryContentType(t *testing.T) {
	imagePath := writeTestImage(t)
	var gotContentType string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"exam_code":"DE001"}`)); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}), 0)

	contentType, body, err := buildForm(
		map[string]string{"session_id": "abc123"},
		[]formFile{{field: "image", filename: "exam_code.jpg", path: imagePath}},
	)
	if err != nil {
		t.Fatalf("failed to build form: %v", err)
	}
	if _, err := client.postObject(t.Context(), "/exam/exam_code", "", body, multipartHeader(contentType)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data; boundary=") {
		t.Fatalf("expected multipart content type, got %q", gotContentType)
	}
}

func TestBuildFormSetsImagePartHeaders(t *testing.T) {
	imagePath := writeTestImage(t)
	contentType, body, err := buildForm(
		map[string]string{"exam_code": "DE001"},
		[]formFile{{field: "p1_img", filename: "p1.jpg", path: imagePath}},
	)
	if err != nil {
		t.Fatalf("failed to build form: %v", err)
	}
	raw := body.String()
	if !strings.Contains(contentType, "multipart/form-data") {
		t.Fatalf("unexpected content type: %q", contentType)
	}
	if !strings.Contains(raw, `name="p1_img"; filename="p1.jpg"`) {
		t.Fatalf("expected image disposition, got %q", raw)
	}
	if !strings.Contains(raw, "Content-Type: image/jpeg") {
		t.Fatalf("expected image/jpeg part, got %q", raw)
	}
	if !strings.Contains(raw, "jpegdata") {
		t.Fatalf("expected image bytes in body")
	}
}

func TestBuildFormMissingFile(t *testing.T) {
	_, _, err := buildForm(nil, []formFile{{field: "image", filename: "p1.jpg", path: filepath.Join(t.TempDir(), "absent.jpg")}})
	if err == nil {
		t.Fatalf("expected error for missing capture file")
	}
}
