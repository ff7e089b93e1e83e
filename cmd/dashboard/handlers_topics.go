package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"edugen/internal/events"
	"edugen/internal/lesson"

	"github.com/go-chi/chi/v5"
)

// ========== Topic Tree ==========

func (s *Server) handleToggleUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Held for the whole toggle so a catalog refresh cannot swap the tree
	// between the lookup and the change.
	s.mu.Lock()
	if _, ok := s.book.Unit(id); !ok {
		s.mu.Unlock()
		jsonErr(w, "Unit not found", http.StatusNotFound)
		return
	}
	expanded := s.tree.ToggleUnit(id)
	view := map[string]interface{}{
		"unit_id":        id,
		"expanded":       expanded,
		"expanded_units": s.tree.Expanded(),
	}
	s.mu.Unlock()

	s.hub.Publish(events.TypeTree, view)
	jsonResp(w, view)
}

func (s *Server) handleSelectTopic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	topic, unit, ok := s.book.Lookup(id)
	if !ok {
		s.mu.Unlock()
		jsonErr(w, "Topic not found", http.StatusNotFound)
		return
	}
	s.tree.SelectTopic(id)
	s.mu.Unlock()

	view := map[string]interface{}{
		"selected_topic": id,
		"topic":          topic,
		"unit_id":        unit.ID,
	}
	s.hub.Publish(events.TypeTree, view)
	jsonResp(w, view)
}

func (s *Server) handleSearchTopics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	// Held across the search so a catalog refresh cannot close the index
	// underneath it.
	s.mu.RLock()
	hits, err := s.index.Search(q, limit)
	s.mu.RUnlock()
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResp(w, map[string]interface{}{"query": q, "hits": hits})
}

// ========== Preferences ==========

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	prefs := s.prefs
	s.mu.RUnlock()
	jsonResp(w, map[string]interface{}{
		"preferences": prefs,
		"languages":   lesson.Languages,
		"tones":       lesson.Tones,
		"avatars":     lesson.Avatars,
	})
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs lesson.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := prefs.Validate(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, lesson.ErrInvalidPreferences) {
			status = http.StatusBadRequest
		}
		jsonErr(w, err.Error(), status)
		return
	}
	s.mu.Lock()
	s.prefs = prefs
	s.mu.Unlock()
	jsonResp(w, prefs)
}
