package core

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC8(t *testing.T) {
	assert.Equal(t, byte(0x00), crc8(nil))
	assert.Equal(t, byte(0x00), crc8([]byte{0x00}))
	assert.Equal(t, byte(0x07), crc8([]byte{0x01}))
	assert.Equal(t, byte(0xF3), crc8([]byte{0xFF}))
	// CRC-8/SMBUS check value.
	assert.Equal(t, byte(0xF4), crc8([]byte("123456789")))
}

func TestPackFrames(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want []byte
	}{
		{
			name: "get device state",
			cmd:  GetDeviceState(),
			want: []byte{0x51, 0x78, 0xA3, 0x00, 0x01, 0x00, 0x00, 0x00, 0xFF},
		},
		{
			name: "write pacing",
			cmd:  WritePacing(),
			want: []byte{0x51, 0x78, 0xAE, 0x00, 0x01, 0x00, 0x00, 0x00, 0xFF},
		},
		{
			name: "feed paper little endian",
			cmd:  FeedPaper(0x0102),
			want: []byte{0x51, 0x78, 0xA1, 0x00, 0x02, 0x00, 0x02, 0x01, crc8([]byte{0x02, 0x01}), 0xFF},
		},
		{
			name: "apply energy",
			cmd:  ApplyEnergy(),
			want: []byte{0x51, 0x78, 0xBE, 0x00, 0x01, 0x00, 0x01, 0x07, 0xFF},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, cmp.Diff(tt.want, tt.cmd.Pack()))
		})
	}
}

func TestParseCommand(t *testing.T) {
	for _, cmd := range []Command{GetDeviceState(), WritePacing(), SetEnergy(9000), LatticeStart()} {
		got, ok := ParseCommand(cmd.Pack())
		require.True(t, ok, cmd.ID.String())
		assert.Equal(t, cmd.ID, got.ID)
		assert.Equal(t, cmd.Data, got.Data)
	}

	// Printers answer the state query with a status payload.
	status := Command{ID: CmdGetDeviceState, Data: []byte{0x00, 0x64, 0x00}}
	got, ok := ParseCommand(status.Pack())
	require.True(t, ok)
	assert.Equal(t, CmdGetDeviceState, got.ID)
}

func TestParseCommandRejectsMalformedFrames(t *testing.T) {
	valid := GetDeviceState().Pack()
	mutate := func(f func(b []byte) []byte) []byte {
		return f(bytes.Clone(valid))
	}

	tests := []struct {
		name string
		in   []byte
	}{
		{name: "empty", in: nil},
		{name: "too short", in: valid[:5]},
		{name: "bad magic", in: mutate(func(b []byte) []byte { b[0] = 0x22; return b })},
		{name: "unknown command", in: mutate(func(b []byte) []byte { b[2] = 0x10; return b })},
		{name: "bad crc", in: mutate(func(b []byte) []byte { b[7] ^= 0xFF; return b })},
		{name: "bad trailer", in: mutate(func(b []byte) []byte { b[8] = 0x00; return b })},
		{name: "length mismatch", in: mutate(func(b []byte) []byte { b[4] = 0x05; return b })},
		{name: "trailing bytes", in: append(bytes.Clone(valid), 0x00)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseCommand(tt.in)
			assert.False(t, ok)
		})
	}
}

func TestDrawBitmapIsLSBFirst(t *testing.T) {
	row := make([]bool, 16)
	row[0] = true
	row[9] = true
	row[15] = true
	assert.Equal(t, []byte{0x01, 0x82}, DrawBitmap(row).Data)
}

func TestPackPrintImage(t *testing.T) {
	opts := DefaultPrintOptions()
	opts.DotWidth = 16
	matrix := [][]bool{make([]bool, 16), make([]bool, 16), make([]bool, 16)}
	matrix[1][0] = true

	out, err := PackPrintImage(matrix, opts)
	require.NoError(t, err)

	var want []byte
	want = append(want, SetQuality(opts.Quality).Pack()...)
	want = append(want, SetEnergy(opts.Energy).Pack()...)
	want = append(want, ApplyEnergy().Pack()...)
	want = append(want, LatticeStart().Pack()...)
	for _, row := range matrix {
		want = append(want, DrawBitmap(row).Pack()...)
	}
	want = append(want, FeedPaper(opts.FeedLines).Pack()...)
	want = append(want, LatticeEnd().Pack()...)
	assert.Empty(t, cmp.Diff(want, out))
}

func TestPackPrintImageErrors(t *testing.T) {
	opts := DefaultPrintOptions()

	_, err := PackPrintImage(nil, opts)
	assert.ErrorIs(t, err, ErrEmptyMatrix)

	_, err = PackPrintImage([][]bool{make([]bool, 383)}, opts)
	assert.ErrorIs(t, err, ErrRowWidth)

	tall := make([][]bool, MaxImageRows+1)
	for i := range tall {
		tall[i] = make([]bool, opts.DotWidth)
	}
	_, err = PackPrintImage(tall, opts)
	assert.ErrorIs(t, err, ErrImageTooTall)
}
