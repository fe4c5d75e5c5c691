package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

var (
	ErrUnsupportedImage = errors.New("unsupported image")
	ErrEmptyImage       = errors.New("image has zero extent")
	ErrImageTooLarge    = errors.New("image too large")
)

const (
	// BlackThreshold is the post-dither intensity below which a dot is burned.
	BlackThreshold = 127

	// MaxRows is the tallest matrix a single print command can carry.
	MaxRows = 0xFFFF
)

// Pipeline turns arbitrary images into the black/white dot matrix the
// printer head expects.
type Pipeline struct {
	dotWidth int
	maxRows  int
	ditherer Ditherer
}

func NewPipeline(dotWidth int, ditherer Ditherer) *Pipeline {
	return &Pipeline{
		dotWidth: dotWidth,
		maxRows:  MaxRows,
		ditherer: ditherer,
	}
}

// WithMaxRows lowers the row limit. Values outside 1..MaxRows are ignored.
func (p *Pipeline) WithMaxRows(n int) *Pipeline {
	if n > 0 && n <= MaxRows {
		p.maxRows = n
	}
	return p
}

func (p *Pipeline) DotWidth() int {
	return p.dotWidth
}

// Process runs monochrome conversion, scaling, pixel extraction, dithering
// and thresholding in that order. Rows of the result are true for black.
func (p *Pipeline) Process(img image.Image) ([][]bool, error) {
	if img == nil {
		return nil, ErrUnsupportedImage
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	if p.dotWidth <= 0 {
		return nil, fmt.Errorf("%w: printer width %d", ErrUnsupportedImage, p.dotWidth)
	}
	b := img.Bounds()
	if h := ScaledHeight(b.Dx(), b.Dy(), p.dotWidth); h > p.maxRows {
		return nil, fmt.Errorf("%w: %w: %dx%d scales to %d rows, limit is %d",
			ErrUnsupportedImage, ErrImageTooLarge, b.Dx(), b.Dy(), h, p.maxRows)
	}

	mono := Monochrome(img)
	scaled := ScaleToWidth(mono, p.dotWidth)
	pixels := Pixels(scaled)
	if p.ditherer != nil {
		pixels = p.ditherer.Apply(pixels)
	}
	return Threshold(pixels), nil
}

// Monochrome maps every pixel to its luminance while keeping its alpha.
func Monochrome(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			lum := (19595*uint32(c.R) + 38470*uint32(c.G) + 7471*uint32(c.B) + 1<<15) >> 24
			out.SetNRGBA(x-b.Min.X, y-b.Min.Y, color.NRGBA{
				R: uint8(lum),
				G: uint8(lum),
				B: uint8(lum),
				A: uint8(c.A >> 8),
			})
		}
	}
	return out
}

// ScaledHeight is the height an image of srcW x srcH gets when scaled to
// width, rounded half up and never less than one row.
func ScaledHeight(srcW, srcH, width int) int {
	h := (srcH*width + srcW/2) / srcW
	if h < 1 {
		h = 1
	}
	return h
}

func ScaleToWidth(img image.Image, width int) *image.NRGBA {
	src := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, width, ScaledHeight(src.Dx(), src.Dy(), width)))
	if src.Dx() == width && src.Dy() == dst.Bounds().Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
		return dst
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}

// Pixels extracts the row-major intensity matrix. Any pixel that is not
// fully opaque reads as white.
func Pixels(img *image.NRGBA) [][]uint8 {
	b := img.Bounds()
	rows := make([][]uint8, 0, b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := make([]uint8, 0, b.Dx())
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			if c.A != 0xFF {
				row = append(row, 0xFF)
				continue
			}
			row = append(row, c.R)
		}
		rows = append(rows, row)
	}
	return rows
}

func Threshold(pixels [][]uint8) [][]bool {
	out := make([][]bool, len(pixels))
	for y, row := range pixels {
		out[y] = make([]bool, len(row))
		for x, v := range row {
			out[y][x] = v < BlackThreshold
		}
	}
	return out
}
