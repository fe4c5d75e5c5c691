package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Source images are bounded before their pixels are decoded.
const (
	MaxSourceSide   = 1 << 15
	MaxSourcePixels = 50_000_000
)

// Decode reads any registered image format and reports its name. The
// header is checked against MaxSourceSide and MaxSourcePixels first.
func Decode(r io.Reader) (image.Image, string, error) {
	var head bytes.Buffer
	cfg, format, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, format, ErrEmptyImage
	}
	if cfg.Width > MaxSourceSide || cfg.Height > MaxSourceSide ||
		int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, format, fmt.Errorf("%w: %w: %s is %dx%d",
			ErrUnsupportedImage, ErrImageTooLarge, format, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	if img.Bounds().Empty() {
		return nil, format, ErrEmptyImage
	}
	return img, format, nil
}
