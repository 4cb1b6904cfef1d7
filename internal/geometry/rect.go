package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRect is returned for rectangles that cannot be mapped onto a page.
var ErrInvalidRect = errors.New("invalid rect")

// Rect is an axis-aligned rectangle. Once normalized every component lies in
// [0,1] relative to the displayed page, origin top-left.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// FromSlice builds a Rect from the [x0, y0, x1, y1] wire form.
func FromSlice(values []float64) (Rect, error) {
	if len(values) != 4 {
		return Rect{}, fmt.Errorf("%w: expected 4 components, got %d", ErrInvalidRect, len(values))
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Rect{}, fmt.Errorf("%w: non-finite component", ErrInvalidRect)
		}
	}
	r := Rect{X0: values[0], Y0: values[1], X1: values[2], Y1: values[3]}
	if r.X0 > r.X1 || r.Y0 > r.Y1 {
		return Rect{}, fmt.Errorf("%w: inverted corners %v", ErrInvalidRect, values)
	}
	return r, nil
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// InUnitSquare reports whether every component already lies in [0,1].
func (r Rect) InUnitSquare() bool {
	return inUnit(r.X0) && inUnit(r.Y0) && inUnit(r.X1) && inUnit(r.Y1)
}

// Validate checks the normalized-rect invariant 0 <= x0 <= x1 <= 1 (same for y).
func (r Rect) Validate() error {
	if !r.InUnitSquare() || r.X0 > r.X1 || r.Y0 > r.Y1 {
		return fmt.Errorf("%w: %+v", ErrInvalidRect, r)
	}
	return nil
}

// Clamp pins every component into [0,1]. Corner order is preserved.
func (r Rect) Clamp() Rect {
	return Rect{X0: clamp01(r.X0), Y0: clamp01(r.Y0), X1: clamp01(r.X1), Y1: clamp01(r.Y1)}
}

// Cells projects the rect onto a cols x rows grid and returns the inclusive
// cell range it covers. Any rect with a non-empty span covers at least one cell.
func (r Rect) Cells(cols, rows int) (c0, r0, c1, r1 int) {
	c0, c1 = span(r.X0, r.X1, cols)
	r0, r1 = span(r.Y0, r.Y1, rows)
	return c0, r0, c1, r1
}

// Contains reports whether the normalized point lies inside the rect.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X0 && x <= r.X1 && y >= r.Y0 && y <= r.Y1
}

func span(lo, hi float64, n int) (int, int) {
	if n <= 0 {
		return 0, 0
	}
	start := int(math.Floor(lo * float64(n)))
	end := int(math.Ceil(hi*float64(n))) - 1
	if start > n-1 {
		start = n - 1
	}
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}
	if end > n-1 {
		end = n - 1
	}
	return start, end
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }

func (r Rect) nearUnitSquare(tol float64) bool {
	for _, v := range [...]float64{r.X0, r.Y0, r.X1, r.Y1} {
		if v < -tol || v > 1+tol {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
