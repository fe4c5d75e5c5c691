package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestProcessOutputWidthMatchesPrinter(t *testing.T) {
	p := NewPipeline(384, Atkinson)
	tests := []struct {
		name       string
		w, h       int
		wantHeight int
	}{
		{name: "already printer width", w: 384, h: 100, wantHeight: 100},
		{name: "upscale", w: 192, h: 50, wantHeight: 100},
		{name: "downscale", w: 768, h: 301, wantHeight: 151},
		{name: "wide and short", w: 4000, h: 3, wantHeight: 1},
		{name: "tall", w: 10, h: 200, wantHeight: 7680},
		{name: "odd ratio", w: 1000, h: 333, wantHeight: 128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Process(solid(tt.w, tt.h, color.White))
			require.NoError(t, err)
			require.Len(t, out, tt.wantHeight)
			for _, row := range out {
				require.Len(t, row, 384)
			}
		})
	}
}

func TestScaledHeightRoundsHalfUp(t *testing.T) {
	assert.Equal(t, 100, ScaledHeight(384, 100, 384))
	assert.Equal(t, 2, ScaledHeight(768, 3, 384))
	assert.Equal(t, 1, ScaledHeight(768, 1, 384))
	assert.Equal(t, 1, ScaledHeight(100000, 1, 384))
}

func TestProcessBlackAndWhite(t *testing.T) {
	p := NewPipeline(8, FloydSteinberg)

	out, err := p.Process(solid(8, 2, color.Black))
	require.NoError(t, err)
	for _, row := range out {
		for _, v := range row {
			assert.True(t, v)
		}
	}

	out, err = p.Process(solid(8, 2, color.White))
	require.NoError(t, err)
	for _, row := range out {
		for _, v := range row {
			assert.False(t, v)
		}
	}
}

func TestProcessTransparentPrintsWhite(t *testing.T) {
	p := NewPipeline(8, FloydSteinberg)
	out, err := p.Process(solid(8, 3, color.NRGBA{A: 0}))
	require.NoError(t, err)
	for _, row := range out {
		for _, v := range row {
			assert.False(t, v)
		}
	}

	// Half transparent black must not burn either.
	out, err = p.Process(solid(8, 3, color.NRGBA{A: 0x80}))
	require.NoError(t, err)
	for _, row := range out {
		for _, v := range row {
			assert.False(t, v)
		}
	}
}

func TestMonochromeUsesLuminance(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 255, A: 255})
	img.Set(2, 0, color.NRGBA{B: 255, A: 255})

	px := Pixels(Monochrome(img))
	require.Len(t, px, 1)
	assert.InDelta(t, 76, int(px[0][0]), 1)
	assert.InDelta(t, 150, int(px[0][1]), 1)
	assert.InDelta(t, 29, int(px[0][2]), 1)
}

func TestMonochromeHandlesOffsetBounds(t *testing.T) {
	img := image.NewGray(image.Rect(10, 20, 14, 22))
	img.SetGray(10, 20, color.Gray{Y: 42})
	mono := Monochrome(img)
	assert.Equal(t, image.Rect(0, 0, 4, 2), mono.Bounds())
	assert.Equal(t, uint8(42), mono.NRGBAAt(0, 0).R)
}

func TestProcessErrors(t *testing.T) {
	p := NewPipeline(384, Atkinson)

	_, err := p.Process(nil)
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = p.Process(image.NewNRGBA(image.Rect(0, 0, 0, 10)))
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestProcessRejectsImagesTooTallToPrint(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{name: "one pixel wide", w: 1, h: 200},
		{name: "narrow strip", w: 2, h: 1000},
		{name: "absurd aspect", w: 1, h: 100000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Greater(t, ScaledHeight(tt.w, tt.h, 384), MaxRows)
			rows, err := NewPipeline(384, Atkinson).Process(image.NewGray(image.Rect(0, 0, tt.w, tt.h)))
			assert.Nil(t, rows)
			assert.ErrorIs(t, err, ErrImageTooLarge)
			assert.ErrorIs(t, err, ErrUnsupportedImage)
		})
	}
}

func TestProcessRowLimit(t *testing.T) {
	p := NewPipeline(384, nil).WithMaxRows(100)

	rows, err := p.Process(solid(384, 100, color.White))
	require.NoError(t, err)
	assert.Len(t, rows, 100)

	_, err = p.Process(solid(384, 101, color.White))
	assert.ErrorIs(t, err, ErrImageTooLarge)

	p.WithMaxRows(MaxRows + 1)
	_, err = p.Process(solid(384, 101, color.White))
	assert.ErrorIs(t, err, ErrImageTooLarge, "limit cannot be raised past the protocol maximum")
}

func TestThresholdIsIdempotentOnBinaryInput(t *testing.T) {
	in := [][]uint8{{0, 255, 0}, {255, 255, 0}}
	first := Threshold(in)

	back := make([][]uint8, len(first))
	for y, row := range first {
		back[y] = make([]uint8, len(row))
		for x, black := range row {
			if !black {
				back[y][x] = 255
			}
		}
	}
	assert.Empty(t, cmp.Diff(in, back))
	assert.Empty(t, cmp.Diff(first, Threshold(back)))
}

func TestThresholdBoundary(t *testing.T) {
	out := Threshold([][]uint8{{126, 127, 128}})
	assert.Equal(t, [][]bool{{true, false, false}}, out)
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(4, 2, color.Black)))

	img, format, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, _, err = Decode(bytes.NewReader([]byte("definitely not an image")))
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestDecodeRejectsOversizedSource(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, MaxSourceSide+1))))

	img, format, err := Decode(&buf)
	assert.Nil(t, img)
	assert.Equal(t, "png", format)
	assert.ErrorIs(t, err, ErrImageTooLarge)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}
