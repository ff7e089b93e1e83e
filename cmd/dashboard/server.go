package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"edugen/internal/backend"
	"edugen/internal/catalog"
	"edugen/internal/chat"
	"edugen/internal/config"
	"edugen/internal/events"
	"edugen/internal/lesson"
	"edugen/internal/logger"
	"edugen/internal/upload"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

// Server holds all dashboard state shared between handlers.
type Server struct {
	cfg    *config.Config
	log    *logger.Logger
	router *chi.Mux

	// ctx outlives individual requests; background work (chat replies,
	// job polling, catalog refresh) is bound to it.
	ctx context.Context
	bg  sync.WaitGroup

	backend   *backend.Client
	hub       *events.Hub
	uploads   *upload.Coordinator
	chat      *chat.Session
	generator *lesson.Generator

	mu          sync.RWMutex
	book        *catalog.Book
	tree        *catalog.Tree
	index       *catalog.Index
	prefs       lesson.Preferences
	sidebarOpen bool
	job         *lesson.Job
	notices     []Notice
}

// Notice is a transient message shown to the teacher, e.g. an upload result.
type Notice struct {
	ID    string    `json:"id"`
	Level string    `json:"level"` // info | error
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

const maxNotices = 20

func NewServer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Server, error) {
	client, err := backend.New(backend.Config{BaseURL: cfg.BackendURL, Timeout: cfg.RequestTimeout}, log)
	if err != nil {
		return nil, err
	}

	book := catalog.Default()
	if cfg.CatalogFile != "" {
		if book, err = catalog.LoadFile(cfg.CatalogFile); err != nil {
			return nil, err
		}
	}
	index, err := catalog.NewIndex(book)
	if err != nil {
		return nil, err
	}

	history, err := chat.ParseHistoryPolicy(cfg.ChatHistory)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    chi.NewRouter(),
		ctx:       ctx,
		backend:   client,
		hub:       events.NewHub(log),
		generator: lesson.NewGenerator(client, cfg.JobPollInterval, log),
		book:      book,
		tree:      catalog.NewTree(book.FirstUnit()),
		index:     index,
		prefs:     lesson.DefaultPreferences(),
	}

	s.uploads = upload.NewCoordinator(client, upload.Options{
		GrantTimeout:    cfg.RequestTimeout,
		TransferTimeout: cfg.UploadTimeout,
		Logger:          log,
		OnChange: func(st upload.State) {
			s.hub.Publish(events.TypeUpload, map[string]interface{}{"state": st})
		},
	})
	s.chat = chat.NewSession(newAssistant(cfg, client), chat.Options{
		History:    history,
		MaxHistory: cfg.ChatHistoryLimit,
		Timeout:    cfg.ChatTimeout,
		Logger:     log,
		OnChange: func() {
			s.hub.Publish(events.TypeChat, s.chatView())
		},
	})

	s.routes()
	log.Info("dashboard configured",
		"backend", client.BaseURL(), "assistant", cfg.AssistantProvider,
		"chat_history", history, "book", book.Title)
	return s, nil
}

func newAssistant(cfg *config.Config, client *backend.Client) chat.Assistant {
	if cfg.AssistantProvider == "openai" {
		return chat.NewOpenAIAssistant(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	}
	return chat.NewBackendAssistant(client)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.cfg.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/api/dashboard", func(r chi.Router) {
		r.Get("/", s.handleDashboard)
		r.Post("/sidebar", s.handleSidebar)
		r.Delete("/notices/{id}", s.handleDismissNotice)

		// Topic tree
		r.Post("/units/{id}/toggle", s.handleToggleUnit)
		r.Post("/topics/{id}/select", s.handleSelectTopic)
		r.Get("/topics/search", s.handleSearchTopics)

		// Lesson
		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)
		r.Post("/generate", s.handleGenerate)

		// Upload & chat
		r.Get("/upload", s.handleUploadState)
		r.Post("/upload", s.handleUpload)
		r.Get("/chat", s.handleChatTranscript)
		r.Post("/chat", s.handleChatSend)
		r.Put("/chat/input", s.handleChatInput)
		r.Post("/chat/submit", s.handleChatSubmit)

		r.Get("/events", s.hub.ServeHTTP)
	})

	r.Handle("/api/v1/*", s.backendProxy())
	r.Handle("/*", http.FileServer(http.Dir(s.cfg.WebDir)))
}

func (s *Server) Router() http.Handler { return s.router }

// Close disconnects event clients and waits for background work, which
// stops once the server context is cancelled.
func (s *Server) Close() {
	s.hub.Close()
	s.chat.Wait()
	s.bg.Wait()
	s.index.Close()
}

// ========== Middleware ==========

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()), "elapsed", time.Since(start))
	})
}

// ========== Helpers ==========

func jsonResp(w http.ResponseWriter, v interface{}) {
	jsonRespCode(w, v, http.StatusOK)
}

func jsonRespCode(w http.ResponseWriter, v interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	jsonRespCode(w, map[string]string{"error": msg}, code)
}

// goBackground runs fn on the server context and tracks it for Close.
func (s *Server) goBackground(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.ctx)
	}()
}

func (s *Server) addNotice(level, format string, args ...interface{}) Notice {
	n := Notice{ID: uuid.NewString(), Level: level, Text: fmt.Sprintf(format, args...), At: time.Now()}
	s.mu.Lock()
	s.notices = append(s.notices, n)
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
	s.mu.Unlock()
	s.hub.Publish(events.TypeNotice, n)
	return n
}

// ========== Dashboard snapshot ==========

type uploadView struct {
	State upload.State   `json:"state"`
	Last  upload.Outcome `json:"last"`
}

type chatView struct {
	Messages []chat.Message `json:"messages"`
	Pending  bool           `json:"pending"`
	Input    string         `json:"input"`
}

type treeView struct {
	Expanded []string `json:"expanded_units"`
	Selected string   `json:"selected_topic,omitempty"`
}

type dashboardView struct {
	Book        *catalog.Book      `json:"book"`
	Tree        treeView           `json:"tree"`
	Preferences lesson.Preferences `json:"preferences"`
	Upload      uploadView         `json:"upload"`
	ChatPending bool               `json:"chat_pending"`
	SidebarOpen bool               `json:"sidebar_open"`
	Generating  bool               `json:"generating"`
	Job         *lesson.Job        `json:"job,omitempty"`
	Notices     []Notice           `json:"notices"`
}

func (s *Server) uploadView() uploadView {
	return uploadView{State: s.uploads.State(), Last: s.uploads.Outcome()}
}

func (s *Server) chatView() chatView {
	return chatView{Messages: s.chat.Messages(), Pending: s.chat.Pending(), Input: s.chat.Input()}
}

// treeViewLocked expects s.mu held for reading.
func (s *Server) treeViewLocked() treeView {
	sel, _ := s.tree.Selected()
	return treeView{Expanded: s.tree.Expanded(), Selected: sel}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	view := dashboardView{
		Book:        s.book,
		Tree:        s.treeViewLocked(),
		Preferences: s.prefs,
		SidebarOpen: s.sidebarOpen,
		Job:         s.job,
		Notices:     append([]Notice(nil), s.notices...),
	}
	s.mu.RUnlock()

	view.Upload = s.uploadView()
	view.ChatPending = s.chat.Pending()
	view.Generating = s.generator.Generating()
	if view.Notices == nil {
		view.Notices = []Notice{}
	}
	jsonResp(w, view)
}

func (s *Server) handleSidebar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Open bool `json:"open"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.sidebarOpen = req.Open
	s.mu.Unlock()
	jsonResp(w, map[string]bool{"open": req.Open})
}

func (s *Server) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notices {
		if n.ID == id {
			s.notices = append(s.notices[:i], s.notices[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	jsonErr(w, "notice not found", http.StatusNotFound)
}
