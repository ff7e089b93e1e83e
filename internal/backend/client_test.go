package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, srv
}

// ========== New / URL ==========

func TestNew_RejectsRelativeURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "/api"}, nil); err == nil {
		t.Error("expected error for relative base url")
	}
}

func TestURL_JoinsPathAndQuery(t *testing.T) {
	c, err := New(Config{BaseURL: "https://backend.example.com/prefix/"}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got := c.URL("/api/v1/book-structure", url.Values{"gcs_uri": {"gs://b/x.pdf"}})
	want := "https://backend.example.com/prefix/api/v1/book-structure?gcs_uri=gs%3A%2F%2Fb%2Fx.pdf"
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

// ========== PostJSON / GetJSON ==========

func TestPostJSON_RoundTrip(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/chat" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing X-Request-Id")
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"message":"hi"`) {
			t.Errorf("body = %s", body)
		}
		w.Write([]byte(`{"reply":"hello"}`))
	})

	var out struct {
		Reply string `json:"reply"`
	}
	if err := c.PostJSON(context.Background(), "/api/v1/chat", map[string]string{"message": "hi"}, &out); err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if out.Reply != "hello" {
		t.Errorf("reply = %q, want 'hello'", out.Reply)
	}
}

func TestGetJSON_StatusError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Job not found"}`))
	})

	err := c.GetJSON(context.Background(), "/api/v1/jobs/x", nil, &struct{}{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", se.StatusCode)
	}
	if se.Body != "Job not found" {
		t.Errorf("body = %q, want detail text", se.Body)
	}
	if StatusCode(err) != http.StatusNotFound {
		t.Errorf("StatusCode(err) = %d", StatusCode(err))
	}
}

func TestGetJSON_DecodeError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	var out map[string]string
	if err := c.GetJSON(context.Background(), "/x", nil, &out); err == nil {
		t.Error("expected decode error")
	}
}

func TestPostJSON_DefaultDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	err = c.PostJSON(context.Background(), "/slow", struct{}{}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// ========== Put ==========

func TestPut_SendsBytesAndContentType(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/pdf" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "%PDF-1.4" {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusOK)
	})

	err := c.Put(context.Background(), srv.URL+"/bucket/obj?X-Goog-Signature=abc", "application/pdf", strings.NewReader("%PDF-1.4"), 8)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
}

func TestPut_StatusErrorOmitsQuery(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("SignatureDoesNotMatch"))
	})

	err := c.Put(context.Background(), srv.URL+"/obj?sig=secret", "application/pdf", strings.NewReader("x"), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret") {
		t.Errorf("error leaks signed query: %v", err)
	}
	if StatusCode(err) != http.StatusForbidden {
		t.Errorf("status = %d, want 403", StatusCode(err))
	}
}

func TestDetail(t *testing.T) {
	cases := []struct {
		name, body, want string
	}{
		{"detail string", `{"detail":"Job not found"}`, "Job not found"},
		{"spaced", `{"detail": "Job not found"}`, "Job not found"},
		{"escaped quote", `{"detail":"bad \"topic\" id"}`, `bad "topic" id`},
		{"error key", `{"error":"bucket unavailable"}`, "bucket unavailable"},
		{"validation list", `{"detail":[{"loc":["body","filename"],"msg":"field required"}]}`, "filename: field required"},
		{"plain text", "upstream timeout", "upstream timeout"},
		{"unrelated json", `{"ok":false}`, `{"ok":false}`},
		{"empty", "  ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := detail([]byte(tc.body)); got != tc.want {
				t.Errorf("detail(%s) = %q, want %q", tc.body, got, tc.want)
			}
		})
	}
}

func TestPut_TransportErrorOmitsQuery(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	target := srv.URL + "/textbooks/x.pdf?X-Goog-Signature=SECRET"
	srv.Close()

	err := c.Put(context.Background(), target, "application/pdf", strings.NewReader("x"), 1)
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if strings.Contains(err.Error(), "SECRET") {
		t.Errorf("error leaks query: %v", err)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		t.Errorf("error still wraps *url.Error: %v", err)
	}
}

func TestPut_DeadlineStillMatches(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Put(ctx, srv.URL+"/textbooks/x.pdf?sig=1", "application/pdf", strings.NewReader("x"), 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
