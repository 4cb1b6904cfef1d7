package document

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csheth/formscout/internal/geometry"
)

// writeTestPDF builds a two-page PDF whose MediaBox is inherited from the page
// tree and whose second page is cropped and rotated.
func writeTestPDF(t *testing.T, path string) {
	t.Helper()
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 612 792] /Resources << >> >>",
		"<< /Type /Page /Parent 2 0 R >>",
		"<< /Type /Page /Parent 2 0 R /CropBox [36 36 576 756] /Rotate 90 >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestInspectPDFReadsGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w9.pdf")
	writeTestPDF(t, path)

	f, err := Inspect(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", f.MIME)
	assert.Equal(t, "w9.pdf", f.Name)
	assert.True(t, f.IsPDF())
	assert.Equal(t, 2, f.Pages)
	require.Len(t, f.Boxes, 2)
	assert.Equal(t, geometry.PageBox{Width: 612, Height: 792}, f.Boxes[0])
	assert.Equal(t, geometry.PageBox{X0: 36, Y0: 36, Width: 540, Height: 720, Rotation: 90}, f.Boxes[1])

	box, ok := f.Box(2)
	assert.True(t, ok)
	assert.Equal(t, 90, box.Rotation)
	_, ok = f.Box(3)
	assert.False(t, ok)
}

func TestInspectImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 20))))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	f, err := Inspect(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", f.MIME)
	assert.Equal(t, 1, f.Pages)
	assert.Equal(t, []geometry.PageBox{{Width: 40, Height: 20}}, f.Boxes)
}

func TestInspectSniffsContentWithoutExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan")
	writeTestPDF(t, path)

	f, err := Inspect(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", f.MIME)
}

func TestInspectRejects(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello"), 0o644))
	big := filepath.Join(dir, "big.pdf")
	writeTestPDF(t, big)

	_, err := Inspect(text, 0)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Inspect(big, 10)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = Inspect(filepath.Join(dir, "missing.pdf"), 0)
	assert.Error(t, err)

	_, err = Inspect(dir, 0)
	assert.Error(t, err)

	_, err = Inspect("  ", 0)
	assert.Error(t, err)
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	for mimeType, want := range map[string]bool{
		"application/pdf": true,
		"image/jpeg":      true,
		"IMAGE/PNG":       true,
		"text/plain":      false,
		"application/zip": false,
		"":                false,
	} {
		assert.Equal(t, want, Allowed(mimeType), mimeType)
	}
}
