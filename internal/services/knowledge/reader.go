package knowledge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// ErrUnsupportedDocument is returned for file types no extractor is registered for
var ErrUnsupportedDocument = errors.New("unsupported document type")

// Extractor returns the plain text of a file
type Extractor func(path string) (string, error)

// Reader dispatches text extraction on the file extension.
// .txt and .md are built in; other formats such as .pdf or .docx are added with Register.
type Reader struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewReader creates a reader with the built-in text extractors
func NewReader() *Reader {
	r := &Reader{extractors: make(map[string]Extractor)}
	r.Register(".txt", readPlainText)
	r.Register(".md", readPlainText)
	r.Register(".markdown", readPlainText)
	return r
}

// Register adds or replaces the extractor for ext
func (r *Reader) Register(ext string, extractor Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[normalizeExt(ext)] = extractor
}

// Supports reports whether path has a registered extractor
func (r *Reader) Supports(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.extractors[normalizeExt(filepath.Ext(path))]
	return ok
}

// Extensions lists the registered extensions
func (r *Reader) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ReadDocumentText extracts the text of the file at path
func (r *Reader) ReadDocumentText(path string) (string, error) {
	ext := normalizeExt(filepath.Ext(path))

	r.mu.RLock()
	extractor, ok := r.extractors[ext]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDocument, ext)
	}

	text, err := extractor(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return text, nil
}

func readPlainText(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}
	text := strings.TrimPrefix(string(content), "\uFEFF")
	return strings.ReplaceAll(text, "\r\n", "\n"), nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
