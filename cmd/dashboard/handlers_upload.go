package main

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"edugen/internal/catalog"
	"edugen/internal/document"
	"edugen/internal/events"
	"edugen/internal/upload"
)

// Parse multipart up to 100MB, matching the largest textbook volumes.
const maxUploadBytes = 100 << 20

// ========== Textbook Upload ==========

func (s *Server) handleUploadState(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, s.uploadView())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Ignored while a transfer is in flight; there is no queue.
	if s.uploads.State() != upload.Idle {
		jsonErr(w, upload.ErrBusy.Error(), http.StatusConflict)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonErr(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		files = r.MultipartForm.File["files"]
	}
	if len(files) == 0 {
		jsonErr(w, "No file uploaded", http.StatusBadRequest)
		return
	}

	f, cleanup, err := stageUpload(files[0])
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, document.ErrUnsupported) && !errors.Is(err, document.ErrUnreadable) && !errors.Is(err, document.ErrEmpty) {
			status = http.StatusInternalServerError
		}
		jsonErr(w, err.Error(), status)
		return
	}
	defer cleanup()

	uri, err := s.uploads.Upload(r.Context(), f)
	switch {
	case errors.Is(err, upload.ErrBusy):
		jsonErr(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, upload.ErrInvalidFile):
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The outcome has been captured for display; the control is ready for
	// the next selection.
	s.uploads.Acknowledge()

	if err != nil {
		phase := ""
		var ue *upload.Error
		if errors.As(err, &ue) {
			phase = string(ue.Phase)
		}
		s.addNotice("error", "Upload Failed: %v", err)
		jsonRespCode(w, map[string]string{"error": err.Error(), "phase": phase}, http.StatusBadGateway)
		return
	}

	s.addNotice("info", "Upload Complete! File: %s URI: %s. The lesson backend is now processing it.", f.Name, uri)
	s.goBackground(func(ctx context.Context) { s.refreshCatalog(ctx, uri) })
	jsonResp(w, map[string]interface{}{
		"resource_uri": uri,
		"filename":     f.Name,
		"pages":        f.Pages,
	})
}

// stageUpload copies a multipart part to a temp directory under its
// original name so it can be inspected like any file on disk.
func stageUpload(fh *multipart.FileHeader) (*upload.File, func(), error) {
	if _, err := document.KindOf(fh.Filename); err != nil {
		return nil, nil, err
	}
	dir, err := os.MkdirTemp("", "edugen-upload-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	src, err := fh.Open()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	defer src.Close()

	dstPath := filepath.Join(dir, filepath.Base(fh.Filename))
	dst, err := os.Create(dstPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		cleanup()
		return nil, nil, err
	}
	dst.Close()

	f, err := upload.FileFromPath(dstPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return f, cleanup, nil
}

// refreshCatalog replaces the topic tree with the structure the backend
// extracted from a freshly uploaded book. The current catalog stays when
// the backend cannot provide one.
func (s *Server) refreshCatalog(ctx context.Context, resourceURI string) {
	book, err := catalog.Fetch(ctx, s.backend, resourceURI)
	if err != nil {
		s.log.Warn("book structure unavailable, keeping current catalog", "resource_uri", resourceURI, "error", err)
		return
	}
	if len(book.Units) == 0 {
		s.log.Info("book structure is empty, keeping current catalog", "resource_uri", resourceURI)
		return
	}
	index, err := catalog.NewIndex(book)
	if err != nil {
		s.log.Error("index book structure", "error", err)
		return
	}

	s.mu.Lock()
	old := s.index
	s.book = book
	s.tree = catalog.NewTree(book.FirstUnit())
	s.index = index
	view := s.treeViewLocked()
	s.mu.Unlock()
	old.Close()

	s.log.Info("catalog replaced", "book", book.ID, "units", len(book.Units))
	s.hub.Publish(events.TypeTree, map[string]interface{}{"book": book, "tree": view})
}
