package raster

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flat(w, h int, v uint8) [][]uint8 {
	rows := make([][]uint8, h)
	for y := range rows {
		rows[y] = make([]uint8, w)
		for x := range rows[y] {
			rows[y][x] = v
		}
	}
	return rows
}

func darkFraction(pixels [][]uint8) float64 {
	var dark, total int
	for _, row := range pixels {
		for _, v := range row {
			total++
			if v < BlackThreshold {
				dark++
			}
		}
	}
	return float64(dark) / float64(total)
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("atkinson")
	require.NoError(t, err)
	assert.Equal(t, Atkinson, a)

	a, err = ParseAlgorithm("floyd-steinberg")
	require.NoError(t, err)
	assert.Equal(t, FloydSteinberg, a)
	assert.Equal(t, "floyd-steinberg", a.String())

	_, err = ParseAlgorithm("bayer")
	assert.Error(t, err)
}

func TestDitherPreservesDimensions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, alg := range []Algorithm{FloydSteinberg, Atkinson} {
		for _, size := range [][2]int{{1, 1}, {2, 3}, {17, 5}, {384, 9}} {
			in := flat(size[0], size[1], 0)
			for y := range in {
				for x := range in[y] {
					in[y][x] = uint8(rng.Intn(256))
				}
			}
			out := alg.Apply(in)
			require.Len(t, out, len(in), "%s %v", alg, size)
			for y := range in {
				require.Len(t, out[y], len(in[y]), "%s %v row %d", alg, size, y)
			}
		}
	}
}

func TestDitherDoesNotModifyInput(t *testing.T) {
	in := flat(8, 8, 100)
	want := flat(8, 8, 100)
	FloydSteinberg.Apply(in)
	Atkinson.Apply(in)
	assert.Empty(t, cmp.Diff(want, in))
}

func TestDitherExtremesAreStable(t *testing.T) {
	for _, alg := range []Algorithm{FloydSteinberg, Atkinson} {
		assert.Empty(t, cmp.Diff(flat(6, 4, 0), alg.Apply(flat(6, 4, 0))), alg.String())
		assert.Empty(t, cmp.Diff(flat(6, 4, 255), alg.Apply(flat(6, 4, 255))), alg.String())
	}
}

func TestFloydSteinbergPreservesAverageDarkness(t *testing.T) {
	out := FloydSteinberg.Apply(flat(64, 64, 128))
	assert.InDelta(t, 0.5, darkFraction(out), 0.05)

	out = FloydSteinberg.Apply(flat(64, 64, 192))
	assert.InDelta(t, 0.25, darkFraction(out), 0.05)
}

func TestAtkinsonDarkensLessThanFloydSteinberg(t *testing.T) {
	// Atkinson passes on only 6/8 of the error, so light regions lose dots.
	for _, grey := range []uint8{170, 200} {
		in := flat(64, 64, grey)
		fs := darkFraction(FloydSteinberg.Apply(in))
		at := darkFraction(Atkinson.Apply(in))
		assert.Greater(t, at, 0.0, "grey %d", grey)
		assert.Less(t, at, fs, "grey %d", grey)
	}
}

func TestFloydSteinbergSpreadsErrorRight(t *testing.T) {
	// 100 quantizes to 0 leaving +100; 7/16 of it lands on the right
	// neighbour which then crosses the mid point.
	out := FloydSteinberg.Apply([][]uint8{{100, 90}})
	assert.Equal(t, [][]uint8{{0, 255}}, out)
}

func TestAtkinsonDropsEdgeError(t *testing.T) {
	out := Atkinson.Apply([][]uint8{{200}})
	assert.Equal(t, [][]uint8{{255}}, out)
}
