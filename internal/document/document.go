// Package document inspects local files before upload: type, size, page
// count and page geometry.
package document

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/csheth/formscout/internal/geometry"
)

// DefaultMaxSize matches the service's upload limit.
const DefaultMaxSize int64 = 20 * 1024 * 1024

var (
	// ErrUnsupportedType is returned for anything other than a PDF or image.
	ErrUnsupportedType = errors.New("unsupported file type: use a PDF or an image")
	// ErrTooLarge is returned for files above the configured maximum.
	ErrTooLarge = errors.New("file exceeds the maximum upload size")
)

// File is a local document that passed validation.
type File struct {
	Path string
	Name string
	MIME string
	Size int64
	// Pages is zero when the page count could not be determined locally.
	Pages int
	// Boxes holds the visible area per page (index 0 is page 1). It may be
	// shorter than Pages, or empty, when geometry is unavailable.
	Boxes []geometry.PageBox
}

// Open returns a reader over the file contents.
func (f File) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// Box returns the geometry of a 1-based page.
func (f File) Box(page int) (geometry.PageBox, bool) {
	if page < 1 || page > len(f.Boxes) {
		return geometry.PageBox{}, false
	}
	return f.Boxes[page-1], true
}

// IsPDF reports whether the file is a PDF.
func (f File) IsPDF() bool { return f.MIME == "application/pdf" }

// Allowed reports whether a MIME type is accepted for upload.
func Allowed(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return mimeType == "application/pdf" || strings.HasPrefix(mimeType, "image/")
}

// Inspect validates path and collects what can be learned locally. A
// maxSize <= 0 selects DefaultMaxSize. Page geometry is best-effort: a file
// that is accepted by type and size is returned even if it cannot be parsed.
func Inspect(path string, maxSize int64) (File, error) {
	if strings.TrimSpace(path) == "" {
		return File{}, errors.New("path cannot be empty")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return File{}, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return File{}, fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}

	mimeType, err := detectMIME(path)
	if err != nil {
		return File{}, err
	}
	if !Allowed(mimeType) {
		return File{}, fmt.Errorf("%w (got %s)", ErrUnsupportedType, mimeType)
	}
	if info.Size() > maxSize {
		return File{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, info.Size(), maxSize)
	}

	f := File{
		Path: path,
		Name: filepath.Base(path),
		MIME: mimeType,
		Size: info.Size(),
	}
	if f.IsPDF() {
		f.Pages, f.Boxes = inspectPDF(path)
	} else {
		f.Pages, f.Boxes = inspectImage(path)
	}
	return f, nil
}

func detectMIME(path string) (string, error) {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType, nil
		}
	}
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open file: %w", err)
	}
	defer file.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("cannot read file: %w", err)
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(head[:n]))
	return mediaType, nil
}
