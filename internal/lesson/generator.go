package lesson

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"edugen/internal/backend"
	"edugen/internal/logger"
)

type JobStatus string

const (
	StatusPending       JobStatus = "PENDING"
	StatusQueued        JobStatus = "QUEUED"
	StatusResearching   JobStatus = "RESEARCHING"
	StatusScripting     JobStatus = "SCRIPTING"
	StatusValidating    JobStatus = "VALIDATING"
	StatusRendering     JobStatus = "RENDERING"
	StatusPersonalizing JobStatus = "PERSONALIZING"
	StatusStitching     JobStatus = "STITCHING"
	StatusCompleted     JobStatus = "COMPLETED"
	StatusFailed        JobStatus = "FAILED"
)

// Terminal reports whether the job will not change status again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job mirrors the backend's job response. Result holds the final lesson
// video URL once the job completes.
type Job struct {
	ID      string    `json:"job_id"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
	Result  string    `json:"result,omitempty"`
}

var (
	ErrNoTopic = errors.New("no topic selected")
	ErrBusy    = errors.New("a lesson is already being generated")
)

const (
	GeneratePath = "/api/v1/generate"
	JobsPath     = "/api/v1/jobs/"
)

type generateRequest struct {
	TopicID     string `json:"topic_id"`
	TeacherName string `json:"teacher_name"`
	Language    string `json:"language"`
	Tone        string `json:"tone"`
	AvatarID    string `json:"avatar_id"`
}

// Generator submits lesson requests and tracks the resulting jobs. Only
// one submission is in flight at a time.
type Generator struct {
	client       *backend.Client
	pollInterval time.Duration
	log          *logger.Logger

	mu         sync.Mutex
	generating bool
}

func NewGenerator(client *backend.Client, pollInterval time.Duration, log *logger.Logger) *Generator {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{client: client, pollInterval: pollInterval, log: log.With("component", "lesson")}
}

// Generating reports whether a submission is in flight.
func (g *Generator) Generating() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generating
}

// Generate submits a lesson request for topicID and returns the queued job.
func (g *Generator) Generate(ctx context.Context, topicID string, prefs Preferences) (*Job, error) {
	topicID = strings.TrimSpace(topicID)
	if topicID == "" {
		return nil, ErrNoTopic
	}
	if err := prefs.Validate(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.generating {
		g.mu.Unlock()
		return nil, ErrBusy
	}
	g.generating = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.generating = false
		g.mu.Unlock()
	}()

	req := generateRequest{
		TopicID:     topicID,
		TeacherName: strings.TrimSpace(prefs.TeacherName),
		Language:    prefs.Language,
		Tone:        prefs.Tone,
		AvatarID:    prefs.AvatarID,
	}
	var job Job
	if err := g.client.PostJSON(ctx, GeneratePath, req, &job); err != nil {
		return nil, fmt.Errorf("generate lesson for %s: %w", topicID, err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("generate lesson for %s: response has no job id", topicID)
	}
	g.log.Info("lesson generation queued", "topic", topicID, "job_id", job.ID, "status", job.Status)
	return &job, nil
}

// Status fetches the current state of a job.
func (g *Generator) Status(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := g.client.GetJSON(ctx, JobsPath+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, fmt.Errorf("job %s status: %w", jobID, err)
	}
	return &job, nil
}

// Await polls a job until it completes or fails, calling onUpdate once per
// observed status change. It returns the terminal job, or ctx's error.
func (g *Generator) Await(ctx context.Context, jobID string, onUpdate func(*Job)) (*Job, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	var last JobStatus
	for {
		job, err := g.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Transient errors keep polling; a missing job does not.
			if backend.StatusCode(err) == http.StatusNotFound {
				return nil, err
			}
			g.log.Warn("job poll failed", "job_id", jobID, "error", err)
		} else {
			if job.Status != last {
				last = job.Status
				if onUpdate != nil {
					onUpdate(job)
				}
			}
			if job.Status.Terminal() {
				g.log.Info("lesson job finished", "job_id", jobID, "status", job.Status, "result", job.Result)
				return job, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
