// Package extract turns uploaded document bytes into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned when no extractor handles the file type.
var ErrUnsupported = errors.New("unsupported file type")

// Extractor extracts plain text from a whole document.
type Extractor interface {
	Extract(ctx context.Context, data []byte, fileName string) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, data []byte, fileName string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte, fileName string) (string, error) {
	return f(ctx, data, fileName)
}

// File kinds understood by the registry.
const (
	KindPDF  = "pdf"
	KindDOCX = "docx"
	KindHTML = "html"
	KindText = "text"
)

// Registry dispatches to a format extractor by file kind, with an optional
// fallback (Tika) for everything else.
type Registry struct {
	byKind   map[string]Extractor
	fallback Extractor
}

// NewRegistry returns a registry with the built-in PDF, DOCX, HTML and text extractors.
// fallback may be nil.
func NewRegistry(fallback Extractor) *Registry {
	return &Registry{
		byKind: map[string]Extractor{
			KindPDF:  ExtractorFunc(PDF),
			KindDOCX: ExtractorFunc(DOCX),
			KindHTML: NewHTML(),
			KindText: ExtractorFunc(Text),
		},
		fallback: fallback,
	}
}

// Register overrides or adds the extractor for a kind.
func (r *Registry) Register(kind string, e Extractor) {
	r.byKind[kind] = e
}

// Extract picks an extractor from the declared content type and the file name.
func (r *Registry) Extract(ctx context.Context, data []byte, fileName, contentType string) (string, error) {
	kind := DetectKind(fileName, contentType)
	if e, ok := r.byKind[kind]; ok {
		text, err := e.Extract(ctx, data, fileName)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", kind, err)
		}
		return text, nil
	}
	if r.fallback != nil {
		return r.fallback.Extract(ctx, data, fileName)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, fileName)
}

// DetectKind maps a file name and MIME type to one of the Kind constants,
// or returns the lower-case extension when no built-in extractor applies.
func DetectKind(fileName, contentType string) string {
	ct, _, _ := mime.ParseMediaType(contentType)
	switch ct {
	case "application/pdf":
		return KindPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return KindDOCX
	case "text/html", "application/xhtml+xml":
		return KindHTML
	case "text/plain", "text/markdown", "text/csv":
		return KindText
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	switch ext {
	case "pdf":
		return KindPDF
	case "docx":
		return KindDOCX
	case "html", "htm", "xhtml":
		return KindHTML
	case "txt", "md", "markdown", "csv", "json", "text":
		return KindText
	}
	return ext
}

// ContentType guesses a MIME type from the file name.
func ContentType(fileName string) string {
	if ct := mime.TypeByExtension(filepath.Ext(fileName)); ct != "" {
		return ct
	}
	switch DetectKind(fileName, "") {
	case KindDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case KindText:
		return "text/plain"
	}
	return "application/octet-stream"
}
