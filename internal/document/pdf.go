package document

import (
	"os"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"github.com/csheth/formscout/internal/geometry"
)

// inspectPDF counts pages with pdfcpu and reads per-page boxes with
// ledongthuc/pdf. Either step may fail independently.
func inspectPDF(path string) (int, []geometry.PageBox) {
	pages := pdfPageCount(path)
	boxes := pdfPageBoxes(path)
	if pages == 0 {
		pages = len(boxes)
	}
	return pages, boxes
}

func pdfPageCount(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadContext(file, conf)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("pdfcpu could not read document")
		return 0
	}
	if err := ctx.EnsurePageCount(); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("pdfcpu could not count pages")
		return 0
	}
	return ctx.PageCount
}

func pdfPageBoxes(path string) (boxes []geometry.PageBox) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Str("path", path).Msg("page geometry unavailable")
			boxes = nil
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("cannot open PDF for geometry")
		return nil
	}
	defer f.Close()

	for n := 1; n <= r.NumPage(); n++ {
		page := r.Page(n)
		if page.V.IsNull() {
			break
		}
		box, ok := pageBox(page.V)
		if !ok {
			break
		}
		boxes = append(boxes, box)
	}
	return boxes
}

// pageBox resolves the crop box (falling back to the media box) and rotation
// of a page, following the Parent chain for inherited attributes. PDF user
// space has a bottom-left origin; the result is flipped to top-left relative
// to the media box.
func pageBox(page pdf.Value) (geometry.PageBox, bool) {
	media, ok := rectangle(inherited(page, "MediaBox"))
	if !ok {
		return geometry.PageBox{}, false
	}
	crop, ok := rectangle(inherited(page, "CropBox"))
	if !ok {
		crop = media
	}
	crop = intersect(crop, media)
	if crop[2] <= crop[0] || crop[3] <= crop[1] {
		return geometry.PageBox{}, false
	}

	rotation := 0
	if rot := inherited(page, "Rotate"); rot.Kind() == pdf.Integer {
		rotation = int(rot.Int64())
	}
	return geometry.PageBox{
		X0:       crop[0] - media[0],
		Y0:       media[3] - crop[3],
		Width:    crop[2] - crop[0],
		Height:   crop[3] - crop[1],
		Rotation: rotation,
	}, true
}

func inherited(page pdf.Value, key string) pdf.Value {
	for v, depth := page, 0; !v.IsNull() && depth < 32; v, depth = v.Key("Parent"), depth+1 {
		if value := v.Key(key); !value.IsNull() {
			return value
		}
	}
	return pdf.Value{}
}

func rectangle(v pdf.Value) ([4]float64, bool) {
	var out [4]float64
	if v.Kind() != pdf.Array || v.Len() != 4 {
		return out, false
	}
	for i := 0; i < 4; i++ {
		n, ok := number(v.Index(i))
		if !ok {
			return out, false
		}
		out[i] = n
	}
	if out[0] > out[2] {
		out[0], out[2] = out[2], out[0]
	}
	if out[1] > out[3] {
		out[1], out[3] = out[3], out[1]
	}
	return out, true
}

func number(v pdf.Value) (float64, bool) {
	switch v.Kind() {
	case pdf.Integer:
		return float64(v.Int64()), true
	case pdf.Real:
		return v.Float64(), true
	default:
		return 0, false
	}
}

func intersect(a, b [4]float64) [4]float64 {
	return [4]float64{max(a[0], b[0]), max(a[1], b[1]), min(a[2], b[2]), min(a[3], b[3])}
}
