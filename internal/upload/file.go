package upload

import (
	"bytes"
	"io"
	"os"

	"edugen/internal/document"
)

// File is the selected textbook: what the grant request names and the
// bytes the transfer writes.
type File struct {
	Name        string
	ContentType string
	Size        int64 // -1 if unknown
	Pages       int

	Open func() (io.ReadCloser, error)
}

func (f *File) Request() Request {
	return Request{Filename: f.Name, ContentType: f.ContentType}
}

// FileFromPath inspects a PDF or DOCX on disk and returns it ready for upload.
func FileFromPath(path string) (*File, error) {
	info, err := document.Inspect(path)
	if err != nil {
		return nil, err
	}
	return &File{
		Name:        info.Name,
		ContentType: info.ContentType,
		Size:        info.Size,
		Pages:       info.Pages,
		Open: func() (io.ReadCloser, error) {
			return os.Open(info.Path)
		},
	}, nil
}

// FileFromBytes wraps an in-memory payload, e.g. a multipart form part.
func FileFromBytes(name, contentType string, data []byte) *File {
	return &File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
