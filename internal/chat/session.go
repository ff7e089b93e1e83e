package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"edugen/internal/logger"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	Greeting = "Hello! I can answer questions about your uploaded textbook. What would you like to know?"
	Apology  = "Sorry, I encountered an error. Please try again."
)

// Message is one transcript entry. ID is stable for UI keying.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sources   []string  `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newMessage(role Role, content string, sources []string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Sources:   sources,
		Timestamp: time.Now(),
	}
}

// HistoryPolicy controls what prior turns accompany a question.
type HistoryPolicy string

const (
	HistoryNone HistoryPolicy = "none"
	HistoryFull HistoryPolicy = "full"
)

func ParseHistoryPolicy(s string) (HistoryPolicy, error) {
	switch HistoryPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case HistoryNone, "":
		return HistoryNone, nil
	case HistoryFull:
		return HistoryFull, nil
	}
	return "", fmt.Errorf("unknown history policy %q (want none or full)", s)
}

type Options struct {
	History HistoryPolicy
	// MaxHistory keeps only the most recent N turns under HistoryFull. Zero
	// means unlimited.
	MaxHistory int
	Timeout    time.Duration
	// OnChange fires after the transcript or pending flag changes.
	OnChange func()
	Logger   *logger.Logger
}

// Session is an in-memory conversation with at most one question in
// flight. The transcript is append-only and lives only as long as the
// Session.
type Session struct {
	assistant Assistant
	opts      Options
	log       *logger.Logger

	mu       sync.Mutex
	messages []Message
	input    string
	pending  bool
	wg       sync.WaitGroup
}

func NewSession(a Assistant, opts Options) *Session {
	if opts.History == "" {
		opts.History = HistoryNone
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	s := &Session{
		assistant: a,
		opts:      opts,
		log:       log.With("component", "chat"),
		messages:  make([]Message, 0, 16),
	}
	s.messages = append(s.messages, newMessage(RoleAssistant, Greeting, nil))
	return s
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Message, len(s.messages))
	copy(cp, s.messages)
	return cp
}

func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Submit sends the current input buffer.
func (s *Session) Submit(ctx context.Context) bool {
	return s.Send(ctx, s.Input())
}

// Send appends the user's question and asks the assistant in the
// background. It returns false without side effects when text is blank or
// a reply is still pending. ctx must outlive the call; callers handling an
// HTTP request should detach it first.
func (s *Session) Send(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return false
	}
	history := s.historyLocked()
	s.messages = append(s.messages, newMessage(RoleUser, text, nil))
	s.input = ""
	s.pending = true
	s.wg.Add(1)
	s.mu.Unlock()
	s.notify()

	go s.ask(ctx, text, history)
	return true
}

// Wait blocks until no question is in flight.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) ask(ctx context.Context, text string, history []Turn) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	reply, err := s.assistant.Reply(ctx, text, history)

	var msg Message
	switch {
	case err != nil:
		s.log.Warn("chat reply failed", "error", err, "elapsed", time.Since(start))
		msg = newMessage(RoleAssistant, Apology, nil)
	case strings.TrimSpace(reply.Text) == "":
		s.log.Warn("chat reply was empty", "elapsed", time.Since(start))
		msg = newMessage(RoleAssistant, Apology, nil)
	default:
		s.log.Debug("chat reply", "sources", len(reply.Sources), "elapsed", time.Since(start))
		msg = newMessage(RoleAssistant, reply.Text, reply.Sources)
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.pending = false
	s.mu.Unlock()
	s.notify()
}

// historyLocked builds the turns sent with the next question, excluding
// the question itself. Caller holds s.mu.
func (s *Session) historyLocked() []Turn {
	if s.opts.History != HistoryFull {
		return []Turn{}
	}
	msgs := s.messages
	if n := s.opts.MaxHistory; n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}

func (s *Session) notify() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}
