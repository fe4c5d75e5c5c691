package raster

import (
	"fmt"
)

// Ditherer converts a grey intensity matrix into one whose values have been
// pushed to black or white by error diffusion. The output has the same
// dimensions as the input and the input is not modified.
type Ditherer interface {
	Apply(pixels [][]uint8) [][]uint8
}

type Algorithm int

const (
	FloydSteinberg Algorithm = iota
	Atkinson
)

func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "floyd-steinberg", "floydsteinberg", "fs":
		return FloydSteinberg, nil
	case "atkinson":
		return Atkinson, nil
	default:
		return 0, fmt.Errorf("unknown dither algorithm: %s", name)
	}
}

func (a Algorithm) String() string {
	switch a {
	case FloydSteinberg:
		return "floyd-steinberg"
	case Atkinson:
		return "atkinson"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

func (a Algorithm) Apply(pixels [][]uint8) [][]uint8 {
	switch a {
	case Atkinson:
		return atkinson.apply(pixels)
	default:
		return floydSteinberg.apply(pixels)
	}
}

type tap struct {
	dx, dy int
	weight int
}

// diffusion is an error diffusion kernel. Taps only reach pixels that have
// not been visited yet in row-major order.
type diffusion struct {
	divisor int
	taps    []tap
}

var floydSteinberg = diffusion{
	divisor: 16,
	taps: []tap{
		{dx: 1, dy: 0, weight: 7},
		{dx: -1, dy: 1, weight: 3},
		{dx: 0, dy: 1, weight: 5},
		{dx: 1, dy: 1, weight: 1},
	},
}

// atkinson spreads 6/8 of the error; the remaining quarter is dropped.
var atkinson = diffusion{
	divisor: 8,
	taps: []tap{
		{dx: 1, dy: 0, weight: 1},
		{dx: 2, dy: 0, weight: 1},
		{dx: -1, dy: 1, weight: 1},
		{dx: 0, dy: 1, weight: 1},
		{dx: 1, dy: 1, weight: 1},
		{dx: 0, dy: 2, weight: 1},
	},
}

func (d diffusion) apply(pixels [][]uint8) [][]uint8 {
	vals := make([][]int, len(pixels))
	for y, row := range pixels {
		vals[y] = make([]int, len(row))
		for x, v := range row {
			vals[y][x] = int(v)
		}
	}

	out := make([][]uint8, len(pixels))
	for y := range vals {
		out[y] = make([]uint8, len(vals[y]))
		for x := range vals[y] {
			old := vals[y][x]
			quantized := 0
			if old >= 128 {
				quantized = 255
			}
			out[y][x] = uint8(quantized)

			diff := old - quantized
			if diff == 0 {
				continue
			}
			for _, t := range d.taps {
				ny, nx := y+t.dy, x+t.dx
				if ny >= len(vals) || nx < 0 || nx >= len(vals[ny]) {
					continue
				}
				vals[ny][nx] = clamp(vals[ny][nx] + diff*t.weight/d.divisor)
			}
		}
	}
	return out
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
