// Package viewer turns a rendered page image into a block of terminal text
// and paints highlight rectangles over it.
package viewer

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/csheth/formscout/internal/geometry"
)

// DefaultRamp runs from blank paper to solid ink.
const DefaultRamp = " .:-=+*#%@"

// cellAspect is how many image pixels tall a cell is per pixel of width.
const cellAspect = 2.0

// ErrTooSmall is returned when the target area cannot hold a single cell.
var ErrTooSmall = errors.New("viewer area too small")

// Grid is a page rendered as characters, with a highlight mask.
type Grid struct {
	Cols  int
	Rows  int
	cells [][]rune
	marks [][]bool
}

// Load decodes the image at path and fits it into width x height cells.
func Load(path string, width, height int) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Render(f, width, height)
}

// Render decodes r and fits the image into width x height cells, keeping
// the page's aspect ratio.
func Render(r io.Reader, width, height int) (*Grid, error) {
	if width < 1 || height < 1 {
		return nil, ErrTooSmall
	}
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode page image: empty image")
	}

	cols, rows := fit(b.Dx(), b.Dy(), width, height)
	dst := image.NewGray(image.Rect(0, 0, cols, rows))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	g := newGrid(cols, rows)
	ramp := []rune(DefaultRamp)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			ink := 255 - int(dst.GrayAt(x, y).Y)
			g.cells[y][x] = ramp[ink*(len(ramp)-1)/255]
		}
	}
	return g, nil
}

// Blank returns an empty page of the given size, used while the image loads.
func Blank(width, height int) *Grid {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	g := newGrid(width, height)
	for y := range g.cells {
		for x := range g.cells[y] {
			g.cells[y][x] = ' '
		}
	}
	return g
}

func newGrid(cols, rows int) *Grid {
	g := &Grid{Cols: cols, Rows: rows, cells: make([][]rune, rows), marks: make([][]bool, rows)}
	for y := 0; y < rows; y++ {
		g.cells[y] = make([]rune, cols)
		g.marks[y] = make([]bool, cols)
	}
	return g
}

func fit(imgW, imgH, width, height int) (int, int) {
	scale := math.Min(float64(width)/float64(imgW), float64(height)*cellAspect/float64(imgH))
	cols := int(math.Round(float64(imgW) * scale))
	rows := int(math.Round(float64(imgH) * scale / cellAspect))
	return max(1, min(cols, width)), max(1, min(rows, height))
}

// Mark flags every cell covered by rects.
func (g *Grid) Mark(rects ...geometry.Rect) {
	for _, r := range rects {
		if r.Validate() != nil {
			continue
		}
		c0, r0, c1, r1 := r.Cells(g.Cols, g.Rows)
		for y := r0; y <= r1; y++ {
			for x := c0; x <= c1; x++ {
				g.marks[y][x] = true
			}
		}
	}
}

// Clear drops every highlight.
func (g *Grid) Clear() {
	for y := range g.marks {
		clear(g.marks[y])
	}
}

// Marked reports whether a cell is highlighted.
func (g *Grid) Marked(col, row int) bool {
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return false
	}
	return g.marks[row][col]
}

// Plain returns the grid without styling.
func (g *Grid) Plain() string {
	lines := make([]string, g.Rows)
	for y, row := range g.cells {
		lines[y] = string(row)
	}
	return strings.Join(lines, "\n")
}

// Render styles runs of highlighted cells with mark.
func (g *Grid) Render(mark lipgloss.Style) string {
	lines := make([]string, g.Rows)
	for y, row := range g.cells {
		var b strings.Builder
		start := 0
		for x := 1; x <= len(row); x++ {
			if x < len(row) && g.marks[y][x] == g.marks[y][start] {
				continue
			}
			run := string(row[start:x])
			if g.marks[y][start] {
				run = mark.Render(run)
			}
			b.WriteString(run)
			start = x
		}
		lines[y] = b.String()
	}
	return strings.Join(lines, "\n")
}
