package upload

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"edugen/internal/backend"
	"edugen/internal/logger"
)

// State is the upload state machine:
//
//	Idle -> RequestingGrant -> Transferring -> Succeeded|Failed -> Idle
//
// The final transition back to Idle only happens through Acknowledge.
type State int

const (
	Idle State = iota
	RequestingGrant
	Transferring
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingGrant:
		return "requesting_grant"
	case Transferring:
		return "transferring"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Busy reports whether a transfer is in flight.
func (s State) Busy() bool {
	return s == RequestingGrant || s == Transferring
}

// Request is sent to the grant endpoint.
type Request struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// Grant is a one-time write location plus the durable identifier of the
// object written there. It is consumed by exactly one PUT.
type Grant struct {
	UploadURL   string `json:"upload_url"`
	ResourceURI string `json:"gcs_uri"`
}

const GrantPath = "/api/v1/upload-url"

// Outcome is the result of the most recent attempt.
type Outcome struct {
	State       State  `json:"state"`
	Filename    string `json:"filename,omitempty"`
	ResourceURI string `json:"resource_uri,omitempty"`
	Err         error  `json:"-"`
	Error       string `json:"error,omitempty"`
}

type Options struct {
	GrantTimeout    time.Duration
	TransferTimeout time.Duration
	// OnChange is called after every state transition, outside the lock.
	OnChange func(State)
	Logger   *logger.Logger
}

// Coordinator turns one selected file into a grant request followed by a
// byte transfer. At most one upload is in flight per Coordinator.
type Coordinator struct {
	client *backend.Client
	opts   Options
	log    *logger.Logger

	mu       sync.Mutex
	state    State
	selected *File
	outcome  Outcome
}

func NewCoordinator(client *backend.Client, opts Options) *Coordinator {
	if opts.GrantTimeout <= 0 {
		opts.GrantTimeout = 30 * time.Second
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 10 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		client: client,
		opts:   opts,
		log:    log.With("component", "upload"),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Selected returns the file picked via SelectFile, or nil.
func (c *Coordinator) Selected() *File {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Coordinator) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// SelectFile records f as the pending selection. It is ignored (returns
// false) when f is nil or the coordinator is not Idle; there is no queue.
func (c *Coordinator) SelectFile(f *File) bool {
	if f == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return false
	}
	c.selected = f
	return true
}

// Upload requests a grant for f and writes its bytes to the granted URL,
// returning the grant's resource URI. It returns ErrBusy without side
// effects while another attempt is in flight or unacknowledged.
func (c *Coordinator) Upload(ctx context.Context, f *File) (string, error) {
	if f == nil || f.Open == nil {
		return "", ErrInvalidFile
	}
	req := f.Request()
	if strings.TrimSpace(req.Filename) == "" || strings.TrimSpace(req.ContentType) == "" {
		return "", fmt.Errorf("%w: filename and content type are required", ErrInvalidFile)
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.selected = f
	c.outcome = Outcome{}
	c.mu.Unlock()
	c.transition(RequestingGrant)

	log := c.log.With("file", req.Filename, "content_type", req.ContentType)
	start := time.Now()

	grant, err := c.requestGrant(ctx, req)
	if err != nil {
		log.Warn("upload grant denied", "error", err)
		return "", c.fail(&Error{Phase: PhaseGrant, Filename: req.Filename, Err: err})
	}

	c.transition(Transferring)
	if err := c.transfer(ctx, grant, f); err != nil {
		log.Warn("upload transfer failed", "error", err)
		return "", c.fail(&Error{Phase: PhaseTransfer, Filename: req.Filename, Err: err})
	}

	c.mu.Lock()
	c.state = Succeeded
	c.outcome = Outcome{State: Succeeded, Filename: req.Filename, ResourceURI: grant.ResourceURI}
	c.mu.Unlock()
	c.notify(Succeeded)

	log.Info("upload complete", "resource_uri", grant.ResourceURI, "elapsed", time.Since(start))
	return grant.ResourceURI, nil
}

// Acknowledge returns a finished coordinator to Idle and clears the
// selection so the same file can be picked again. It is a no-op while a
// transfer is in flight.
func (c *Coordinator) Acknowledge() Outcome {
	c.mu.Lock()
	out := c.outcome
	if c.state != Succeeded && c.state != Failed {
		c.mu.Unlock()
		return out
	}
	c.state = Idle
	c.selected = nil
	c.mu.Unlock()
	c.notify(Idle)
	return out
}

func (c *Coordinator) requestGrant(ctx context.Context, req Request) (*Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.GrantTimeout)
	defer cancel()

	var grant Grant
	if err := c.client.PostJSON(ctx, GrantPath, req, &grant); err != nil {
		return nil, err
	}
	if grant.UploadURL == "" || grant.ResourceURI == "" {
		return nil, fmt.Errorf("grant response missing upload_url or gcs_uri")
	}
	return &grant, nil
}

func (c *Coordinator) transfer(ctx context.Context, grant *Grant, f *File) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.TransferTimeout)
	defer cancel()

	body, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer body.Close()

	return c.client.Put(ctx, grant.UploadURL, f.ContentType, body, f.Size)
}

func (c *Coordinator) transition(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Coordinator) fail(err *Error) error {
	c.mu.Lock()
	c.state = Failed
	c.outcome = Outcome{State: Failed, Filename: err.Filename, Err: err, Error: err.Error()}
	c.mu.Unlock()
	c.notify(Failed)
	return err
}

func (c *Coordinator) notify(s State) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(s)
	}
}
