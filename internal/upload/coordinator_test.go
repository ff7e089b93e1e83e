package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"edugen/internal/backend"
	"edugen/internal/document"
)

// fakeBackend serves the grant endpoint and the presigned PUT target.
type fakeBackend struct {
	srv *httptest.Server

	grantStatus int
	putStatus   int
	grantBlock  chan struct{}

	grants   atomic.Int32
	puts     atomic.Int32
	mu       sync.Mutex
	lastReq  Request
	putBody  []byte
	putCType string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{grantStatus: http.StatusOK, putStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/upload-url", func(w http.ResponseWriter, r *http.Request) {
		fb.grants.Add(1)
		if fb.grantBlock != nil {
			<-fb.grantBlock
		}
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		fb.mu.Lock()
		fb.lastReq = req
		fb.mu.Unlock()
		if fb.grantStatus != http.StatusOK {
			w.WriteHeader(fb.grantStatus)
			w.Write([]byte(`{"detail":"bucket unavailable"}`))
			return
		}
		json.NewEncoder(w).Encode(Grant{
			UploadURL:   fb.srv.URL + "/storage/" + req.Filename + "?X-Goog-Signature=abc",
			ResourceURI: "gs://textbooks/" + req.Filename,
		})
	})
	mux.HandleFunc("/storage/", func(w http.ResponseWriter, r *http.Request) {
		fb.puts.Add(1)
		body, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		fb.putBody = body
		fb.putCType = r.Header.Get("Content-Type")
		fb.mu.Unlock()
		w.WriteHeader(fb.putStatus)
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) coordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	client, err := backend.New(backend.Config{BaseURL: fb.srv.URL}, nil)
	if err != nil {
		t.Fatalf("backend.New failed: %v", err)
	}
	return NewCoordinator(client, opts)
}

func pdfFile(data string) *File {
	return FileFromBytes("physics.pdf", "application/pdf", []byte(data))
}

// ========== Happy path ==========

func TestUpload_Success(t *testing.T) {
	fb := newFakeBackend(t)
	var mu sync.Mutex
	var states []State
	c := fb.coordinator(t, Options{OnChange: func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}})

	uri, err := c.Upload(context.Background(), pdfFile("%PDF-1.4 textbook"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if uri != "gs://textbooks/physics.pdf" {
		t.Errorf("uri = %q, want gs://textbooks/physics.pdf", uri)
	}
	if c.State() != Succeeded {
		t.Errorf("state = %v, want succeeded", c.State())
	}

	if fb.lastReq.Filename != "physics.pdf" || fb.lastReq.ContentType != "application/pdf" {
		t.Errorf("grant request = %+v", fb.lastReq)
	}
	if string(fb.putBody) != "%PDF-1.4 textbook" {
		t.Errorf("put body = %q", fb.putBody)
	}
	if fb.putCType != "application/pdf" {
		t.Errorf("put content-type = %q", fb.putCType)
	}

	want := []State{RequestingGrant, Transferring, Succeeded}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestAcknowledge_ResetsToIdle(t *testing.T) {
	fb := newFakeBackend(t)
	c := fb.coordinator(t, Options{})

	f := pdfFile("x")
	if !c.SelectFile(f) {
		t.Fatal("SelectFile should succeed while idle")
	}
	if _, err := c.Upload(context.Background(), f); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	out := c.Acknowledge()
	if out.State != Succeeded || out.ResourceURI != "gs://textbooks/physics.pdf" {
		t.Errorf("outcome = %+v", out)
	}
	if c.State() != Idle {
		t.Errorf("state = %v, want idle", c.State())
	}
	if c.Selected() != nil {
		t.Error("selection should be cleared after acknowledge")
	}
	if !c.SelectFile(f) {
		t.Error("same file should be selectable again")
	}
}

func TestAcknowledge_NoopWhenIdle(t *testing.T) {
	c := newFakeBackend(t).coordinator(t, Options{})
	called := false
	c.opts.OnChange = func(State) { called = true }
	c.Acknowledge()
	if called {
		t.Error("acknowledge while idle should not transition")
	}
}

// ========== Failures ==========

func TestUpload_GrantDenied(t *testing.T) {
	fb := newFakeBackend(t)
	fb.grantStatus = http.StatusInternalServerError
	c := fb.coordinator(t, Options{})

	_, err := c.Upload(context.Background(), pdfFile("x"))
	if !errors.Is(err, ErrGrantDenied) {
		t.Fatalf("err = %v, want ErrGrantDenied", err)
	}
	if errors.Is(err, ErrTransferFailed) {
		t.Error("grant failure should not match ErrTransferFailed")
	}
	var ue *Error
	if !errors.As(err, &ue) || ue.Phase != PhaseGrant {
		t.Errorf("expected *Error with grant phase, got %v", err)
	}
	if !strings.Contains(err.Error(), "bucket unavailable") {
		t.Errorf("error should carry backend detail: %v", err)
	}
	if fb.puts.Load() != 0 {
		t.Errorf("puts = %d, want 0", fb.puts.Load())
	}
	if c.State() != Failed {
		t.Errorf("state = %v, want failed", c.State())
	}
	if out := c.Acknowledge(); out.State != Failed || out.Error == "" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestUpload_TransferFailed(t *testing.T) {
	fb := newFakeBackend(t)
	fb.putStatus = http.StatusForbidden
	c := fb.coordinator(t, Options{})

	_, err := c.Upload(context.Background(), pdfFile("x"))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if backend.StatusCode(err) != http.StatusForbidden {
		t.Errorf("status = %d, want 403", backend.StatusCode(err))
	}
	if strings.Contains(err.Error(), "X-Goog-Signature") {
		t.Errorf("error leaks signed url: %v", err)
	}
	if c.State() != Failed {
		t.Errorf("state = %v, want failed", c.State())
	}
}

func TestUpload_TransferUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	dead := "http://" + ln.Addr().String() + "/textbooks/x.pdf?X-Goog-Signature=SECRET"
	ln.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Grant{UploadURL: dead, ResourceURI: "gs://textbooks/x.pdf"})
	}))
	defer srv.Close()
	client, _ := backend.New(backend.Config{BaseURL: srv.URL}, nil)
	c := NewCoordinator(client, Options{})

	_, err = c.Upload(context.Background(), pdfFile("x"))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if strings.Contains(err.Error(), "SECRET") {
		t.Errorf("error leaks signed url: %v", err)
	}
	if out := c.Outcome(); strings.Contains(out.Error, "SECRET") {
		t.Errorf("outcome leaks signed url: %s", out.Error)
	}
	if c.State() != Failed {
		t.Errorf("state = %v, want failed", c.State())
	}
}

func TestUpload_IncompleteGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"upload_url":""}`))
	}))
	defer srv.Close()
	client, _ := backend.New(backend.Config{BaseURL: srv.URL}, nil)
	c := NewCoordinator(client, Options{})

	if _, err := c.Upload(context.Background(), pdfFile("x")); !errors.Is(err, ErrGrantDenied) {
		t.Errorf("err = %v, want ErrGrantDenied", err)
	}
}

func TestUpload_CancelledContext(t *testing.T) {
	fb := newFakeBackend(t)
	c := fb.coordinator(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Upload(ctx, pdfFile("x"))
	if !errors.Is(err, ErrGrantDenied) {
		t.Errorf("err = %v, want ErrGrantDenied", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want to wrap context.Canceled", err)
	}
}

func TestUpload_GrantTimeout(t *testing.T) {
	fb := newFakeBackend(t)
	fb.grantBlock = make(chan struct{})
	defer close(fb.grantBlock)
	c := fb.coordinator(t, Options{GrantTimeout: 50 * time.Millisecond})

	_, err := c.Upload(context.Background(), pdfFile("x"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// ========== Sequencing ==========

func TestUpload_BusyWhileInFlight(t *testing.T) {
	fb := newFakeBackend(t)
	fb.grantBlock = make(chan struct{})
	entered := make(chan State, 4)
	c := fb.coordinator(t, Options{OnChange: func(s State) { entered <- s }})

	done := make(chan error, 1)
	go func() {
		_, err := c.Upload(context.Background(), pdfFile("first"))
		done <- err
	}()
	if s := <-entered; s != RequestingGrant {
		t.Fatalf("first transition = %v", s)
	}

	if _, err := c.Upload(context.Background(), pdfFile("second")); !errors.Is(err, ErrBusy) {
		t.Errorf("second Upload err = %v, want ErrBusy", err)
	}
	if c.SelectFile(pdfFile("third")) {
		t.Error("SelectFile should be ignored while busy")
	}

	close(fb.grantBlock)
	if err := <-done; err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	if n := fb.grants.Load(); n != 1 {
		t.Errorf("grant calls = %d, want 1", n)
	}
}

func TestUpload_BusyUntilAcknowledged(t *testing.T) {
	fb := newFakeBackend(t)
	c := fb.coordinator(t, Options{})

	if _, err := c.Upload(context.Background(), pdfFile("x")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, err := c.Upload(context.Background(), pdfFile("x")); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy before acknowledge", err)
	}
	c.Acknowledge()
	if _, err := c.Upload(context.Background(), pdfFile("x")); err != nil {
		t.Errorf("Upload after acknowledge failed: %v", err)
	}
}

// ========== Input validation ==========

func TestUpload_InvalidFile(t *testing.T) {
	fb := newFakeBackend(t)
	c := fb.coordinator(t, Options{})

	for _, f := range []*File{
		nil,
		FileFromBytes("", "application/pdf", []byte("x")),
		FileFromBytes("a.pdf", " ", []byte("x")),
		{Name: "a.pdf", ContentType: "application/pdf"},
	} {
		if _, err := c.Upload(context.Background(), f); !errors.Is(err, ErrInvalidFile) {
			t.Errorf("Upload(%+v) err = %v, want ErrInvalidFile", f, err)
		}
	}
	if c.State() != Idle {
		t.Errorf("state = %v, want idle", c.State())
	}
	if fb.grants.Load() != 0 {
		t.Errorf("grant calls = %d, want 0", fb.grants.Load())
	}
}

func TestSelectFile_Nil(t *testing.T) {
	c := newFakeBackend(t).coordinator(t, Options{})
	if c.SelectFile(nil) {
		t.Error("SelectFile(nil) should be ignored")
	}
}

// ========== FileFromPath ==========

func TestFileFromPath_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("hi"), 0644)
	if _, err := FileFromPath(path); !errors.Is(err, document.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestStateString(t *testing.T) {
	if RequestingGrant.String() != "requesting_grant" {
		t.Errorf("String = %q", RequestingGrant.String())
	}
	if !Transferring.Busy() || Failed.Busy() {
		t.Error("Busy mismatch")
	}
}
