package geometry

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects how raw search rectangles are interpreted.
type Mode string

const (
	// ModeAuto treats rects inside the unit square as normalized and anything
	// else as document space.
	ModeAuto Mode = "auto"
	// ModeNormalized trusts the server to send page-relative fractions.
	ModeNormalized Mode = "normalized"
	// ModeDocument expects page points (or rendered pixels when Scale != 1).
	ModeDocument Mode = "document"
)

// ErrMissingPageBox is returned when a document-space rect arrives for a page
// whose geometry is unknown.
var ErrMissingPageBox = errors.New("page box unknown")

// ParseMode maps a config value onto a Mode.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeNormalized:
		return ModeNormalized, nil
	case ModeDocument:
		return ModeDocument, nil
	default:
		return "", fmt.Errorf("unknown coordinate mode %q (want auto, normalized or document)", value)
	}
}

// PageBox is the visible area of a page in document space: the crop box in
// points with a top-left origin, before rotation.
type PageBox struct {
	X0       float64
	Y0       float64
	Width    float64
	Height   float64
	Rotation int
}

// Rotated returns the displayed width and height after applying Rotation.
func (b PageBox) Rotated() (float64, float64) {
	if b.rotation() == 90 || b.rotation() == 270 {
		return b.Height, b.Width
	}
	return b.Width, b.Height
}

func (b PageBox) rotation() int {
	r := b.Rotation % 360
	if r < 0 {
		r += 360
	}
	return r
}

// Normalize converts a document-space rect into page-relative fractions of
// the displayed (rotated) page. scale undoes render scaling first, so rects
// measured on a 2x raster pass scale 2.
func Normalize(raw Rect, box PageBox, scale float64) (Rect, error) {
	if box.Width <= 0 || box.Height <= 0 {
		return Rect{}, fmt.Errorf("%w: empty page box", ErrInvalidRect)
	}
	if scale <= 0 {
		scale = 1
	}
	x0 := raw.X0/scale - box.X0
	y0 := raw.Y0/scale - box.Y0
	x1 := raw.X1/scale - box.X0
	y1 := raw.Y1/scale - box.Y0

	w, h := box.Width, box.Height
	switch box.rotation() {
	case 90:
		x0, y0, x1, y1 = h-y0, x0, h-y1, x1
	case 180:
		x0, y0, x1, y1 = w-x0, h-y0, w-x1, h-y1
	case 270:
		x0, y0, x1, y1 = y0, w-x0, y1, w-x1
	case 0:
	default:
		return Rect{}, fmt.Errorf("%w: unsupported rotation %d", ErrInvalidRect, box.Rotation)
	}

	rw, rh := box.Rotated()
	out := Rect{X0: x0 / rw, Y0: y0 / rh, X1: x1 / rw, Y1: y1 / rh}
	if out.X0 > out.X1 {
		out.X0, out.X1 = out.X1, out.X0
	}
	if out.Y0 > out.Y1 {
		out.Y0, out.Y1 = out.Y1, out.Y0
	}
	return out, nil
}

// autoTolerance is how far outside [0,1] a rect may reach and still be read
// as fractions in ModeAuto. Matches that run past the crop box overshoot
// slightly; no real document-space rect fits inside 1.05pt.
const autoTolerance = 0.05

// Normalizer resolves wire rects into normalized page rects.
type Normalizer struct {
	Mode  Mode
	Scale float64
}

// Resolve validates the raw [x0,y0,x1,y1] slice and maps it into the unit
// square. box may be nil when the page geometry is unknown.
func (n Normalizer) Resolve(raw []float64, box *PageBox) (Rect, error) {
	rect, err := FromSlice(raw)
	if err != nil {
		return Rect{}, err
	}

	var out Rect
	switch n.Mode {
	case ModeNormalized:
		out = rect
	case ModeDocument:
		if box == nil {
			return Rect{}, ErrMissingPageBox
		}
		if out, err = Normalize(rect, *box, n.Scale); err != nil {
			return Rect{}, err
		}
	default:
		switch {
		case rect.nearUnitSquare(autoTolerance):
			out = rect
		case box != nil:
			if out, err = Normalize(rect, *box, n.Scale); err != nil {
				return Rect{}, err
			}
		default:
			return Rect{}, ErrMissingPageBox
		}
	}

	clamped := out.Clamp()
	if (clamped.Width() == 0 && out.Width() > 0) || (clamped.Height() == 0 && out.Height() > 0) {
		return Rect{}, fmt.Errorf("%w: rect lies outside the page", ErrInvalidRect)
	}
	return clamped, nil
}
