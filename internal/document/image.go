package document

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/rs/zerolog/log"

	"github.com/csheth/formscout/internal/geometry"
)

// inspectImage treats an image as a single unrotated page measured in pixels.
func inspectImage(path string) (int, []geometry.PageBox) {
	file, err := os.Open(path)
	if err != nil {
		return 1, nil
	}
	defer file.Close()

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("cannot decode image header")
		return 1, nil
	}
	log.Debug().Str("format", format).Int("width", cfg.Width).Int("height", cfg.Height).Msg("inspected image")
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 1, nil
	}
	return 1, []geometry.PageBox{{Width: float64(cfg.Width), Height: float64(cfg.Height)}}
}
