package main

import (
	"encoding/json"
	"net/http"
)

// ========== Chat ==========

func (s *Server) handleChatTranscript(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, s.chatView())
}

// handleChatSend accepts a question and returns immediately; the reply
// arrives as a chat event. The session runs on the server context because
// the reply outlives this request.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !s.chat.Send(s.ctx, req.Message) {
		jsonErr(w, "message rejected: empty or a reply is pending", http.StatusConflict)
		return
	}
	jsonRespCode(w, s.chatView(), http.StatusAccepted)
}

func (s *Server) handleChatInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.chat.SetInput(req.Text)
	jsonResp(w, map[string]string{"input": req.Text})
}

func (s *Server) handleChatSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.chat.Submit(s.ctx) {
		jsonErr(w, "message rejected: empty or a reply is pending", http.StatusConflict)
		return
	}
	jsonRespCode(w, s.chatView(), http.StatusAccepted)
}
