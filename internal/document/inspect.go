package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var (
	ErrUnsupported = errors.New("unsupported file type (want .pdf or .docx)")
	ErrUnreadable  = errors.New("file is not a readable document")
	ErrEmpty       = errors.New("file is empty")
)

// Info describes a textbook file the teacher picked for upload.
type Info struct {
	Name        string `json:"name"`
	Path        string `json:"-"`
	Kind        Kind   `json:"kind"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Pages       int    `json:"pages"`
}

// KindOf maps a filename to a supported document kind by extension.
func KindOf(name string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF, nil
	case ".docx":
		return KindDOCX, nil
	default:
		return "", ErrUnsupported
	}
}

// ContentType returns the MIME type sent with the upload grant and PUT.
func (k Kind) ContentType() string {
	switch k {
	case KindPDF:
		return ContentTypePDF
	case KindDOCX:
		return ContentTypeDOCX
	}
	return ""
}

// Inspect validates that path is a readable PDF or DOCX and reports its
// size and page count. It does not extract content.
func Inspect(path string) (*Info, error) {
	kind, err := KindOf(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s: %w", fi.Name(), ErrUnreadable)
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("%s: %w", fi.Name(), ErrEmpty)
	}

	var pages int
	switch kind {
	case KindPDF:
		pages, err = pdfPages(path)
	case KindDOCX:
		pages, err = docxPages(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", fi.Name(), ErrUnreadable, err)
	}

	return &Info{
		Name:        fi.Name(),
		Path:        path,
		Kind:        kind,
		ContentType: kind.ContentType(),
		Size:        fi.Size(),
		Pages:       pages,
	}, nil
}

func pdfPages(path string) (n int, err error) {
	// ledongthuc/pdf panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}

// DOCX files have no physical pages, so paragraphs are grouped into
// ~3000-character logical pages.
const charsPerPage = 3000

func docxPages(path string) (int, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return countPages(r.Editable().GetContent()), nil
}

// countPages walks document.xml once, measuring the visible text of each
// <w:p> paragraph and packing whole paragraphs into logical pages. A
// paragraph longer than a page still occupies a single page.
func countPages(content string) int {
	var (
		pages, pageLen int
		para           strings.Builder
	)
	flush := func() {
		n := len(strings.TrimSpace(para.String()))
		para.Reset()
		if n == 0 {
			return
		}
		if pageLen > 0 && pageLen+n > charsPerPage {
			pages++
			pageLen = 0
		}
		pageLen += n
	}

	for i := 0; i < len(content); {
		if content[i] != '<' {
			para.WriteByte(content[i])
			i++
			continue
		}
		end := strings.IndexByte(content[i:], '>')
		if end < 0 {
			break
		}
		if isParagraphStart(content[i+1 : i+end]) {
			flush()
		}
		i += end + 1
	}
	flush()

	if pageLen > 0 {
		pages++
	}
	if pages == 0 {
		pages = 1
	}
	return pages
}

// isParagraphStart reports whether tag (the text between < and >) opens a
// w:p element, as opposed to w:pPr, w:proofErr or a closing tag.
func isParagraphStart(tag string) bool {
	name := tag
	if i := strings.IndexAny(tag, " \t\r\n/"); i >= 0 {
		name = tag[:i]
	}
	return name == "w:p"
}
