package main

import (
	"context"
	"errors"
	"net/http"

	"edugen/internal/events"
	"edugen/internal/lesson"
)

// ========== Lesson Generation ==========

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	topicID, _ := s.tree.Selected()
	topic, _, _ := s.book.Lookup(topicID)
	prefs := s.prefs
	s.mu.RUnlock()

	job, err := s.generator.Generate(r.Context(), topicID, prefs)
	switch {
	case errors.Is(err, lesson.ErrNoTopic), errors.Is(err, lesson.ErrInvalidPreferences):
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, lesson.ErrBusy):
		jsonErr(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.addNotice("error", "Lesson generation failed: %v", err)
		jsonErr(w, err.Error(), http.StatusBadGateway)
		return
	}

	s.setJob(job)
	s.addNotice("info", "Lesson Generation Started for topic: %s. With Auto-Stitched Intro for: %s", topic.Title, prefs.TeacherName)
	s.goBackground(func(ctx context.Context) { s.trackJob(ctx, job.ID) })
	jsonRespCode(w, job, http.StatusAccepted)
}

func (s *Server) trackJob(ctx context.Context, jobID string) {
	job, err := s.generator.Await(ctx, jobID, func(j *lesson.Job) {
		s.setJob(j)
		s.hub.Publish(events.TypeJob, j)
	})
	switch {
	case err != nil:
		if ctx.Err() == nil {
			s.addNotice("error", "Lost track of lesson job %s: %v", jobID, err)
		}
	case job.Status == lesson.StatusCompleted:
		s.addNotice("info", "Lesson ready: %s", job.Result)
	default:
		s.addNotice("error", "Lesson generation failed: %s", job.Message)
	}
}

func (s *Server) setJob(j *lesson.Job) {
	s.mu.Lock()
	s.job = j
	s.mu.Unlock()
}
