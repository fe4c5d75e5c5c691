package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrEmptyMatrix  = errors.New("print matrix is empty")
	ErrRowWidth     = errors.New("print row width does not match printer width")
	ErrImageTooTall = errors.New("print matrix has too many rows")
)

type CommandID byte

const (
	CmdDrawBitmap     CommandID = 0xA2
	CmdFeedPaper      CommandID = 0xA1
	CmdGetDeviceState CommandID = 0xA3
	CmdSetQuality     CommandID = 0xA4
	CmdLattice        CommandID = 0xA6
	CmdWritePacing    CommandID = 0xAE
	CmdSetEnergy      CommandID = 0xAF
	CmdApplyEnergy    CommandID = 0xBE
)

func (c CommandID) String() string {
	switch c {
	case CmdDrawBitmap:
		return "draw_bitmap"
	case CmdFeedPaper:
		return "feed_paper"
	case CmdGetDeviceState:
		return "get_device_state"
	case CmdSetQuality:
		return "set_quality"
	case CmdLattice:
		return "lattice"
	case CmdWritePacing:
		return "write_pacing"
	case CmdSetEnergy:
		return "set_energy"
	case CmdApplyEnergy:
		return "apply_energy"
	default:
		return fmt.Sprintf("CommandID(0x%02X)", byte(c))
	}
}

func (c CommandID) known() bool {
	switch c {
	case CmdDrawBitmap, CmdFeedPaper, CmdGetDeviceState, CmdSetQuality,
		CmdLattice, CmdWritePacing, CmdSetEnergy, CmdApplyEnergy:
		return true
	}
	return false
}

const (
	frameMagic0   = 0x51
	frameMagic1   = 0x78
	frameTrailer  = 0xFF
	frameHeader   = 6
	frameOverhead = frameHeader + 2

	// MaxImageRows bounds a single print job. The feed and row counters the
	// printer tracks are 16 bit.
	MaxImageRows = 0xFFFF
)

var (
	latticeStart = []byte{0xAA, 0x55, 0x17, 0x38, 0x44, 0x5F, 0x5F, 0x5F, 0x44, 0x38, 0x2C}
	latticeEnd   = []byte{0xAA, 0x55, 0x17, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x17}
)

// Command is one framed message exchanged with the printer.
type Command struct {
	ID   CommandID
	Data []byte
}

func GetDeviceState() Command {
	return Command{ID: CmdGetDeviceState, Data: []byte{0x00}}
}

func WritePacing() Command {
	return Command{ID: CmdWritePacing, Data: []byte{0x00}}
}

func SetQuality(level byte) Command {
	return Command{ID: CmdSetQuality, Data: []byte{level}}
}

func SetEnergy(energy uint16) Command {
	return Command{ID: CmdSetEnergy, Data: binary.LittleEndian.AppendUint16(nil, energy)}
}

func ApplyEnergy() Command {
	return Command{ID: CmdApplyEnergy, Data: []byte{0x01}}
}

func FeedPaper(lines uint16) Command {
	return Command{ID: CmdFeedPaper, Data: binary.LittleEndian.AppendUint16(nil, lines)}
}

func LatticeStart() Command {
	return Command{ID: CmdLattice, Data: latticeStart}
}

func LatticeEnd() Command {
	return Command{ID: CmdLattice, Data: latticeEnd}
}

// DrawBitmap packs one printer row. Dots are LSB first within each byte and
// a set bit burns the dot.
func DrawBitmap(row []bool) Command {
	data := make([]byte, (len(row)+7)/8)
	for x, black := range row {
		if black {
			data[x/8] |= 1 << (x % 8)
		}
	}
	return Command{ID: CmdDrawBitmap, Data: data}
}

func (c Command) Pack() []byte {
	return c.AppendPack(make([]byte, 0, frameOverhead+len(c.Data)))
}

func (c Command) AppendPack(dst []byte) []byte {
	n := len(c.Data)
	dst = append(dst, frameMagic0, frameMagic1, byte(c.ID), 0x00, byte(n), byte(n>>8))
	dst = append(dst, c.Data...)
	return append(dst, crc8(c.Data), frameTrailer)
}

// ParseCommand decodes one frame. Anything that is not a complete, valid
// frame of a known command reports false.
func ParseCommand(b []byte) (Command, bool) {
	if len(b) < frameOverhead || b[0] != frameMagic0 || b[1] != frameMagic1 {
		return Command{}, false
	}
	id := CommandID(b[2])
	if !id.known() {
		return Command{}, false
	}
	n := int(binary.LittleEndian.Uint16(b[4:6]))
	if len(b) != frameOverhead+n {
		return Command{}, false
	}
	data := b[frameHeader : frameHeader+n]
	if b[frameHeader+n] != crc8(data) || b[frameHeader+n+1] != frameTrailer {
		return Command{}, false
	}
	return Command{ID: id, Data: bytes.Clone(data)}, true
}

type PrintOptions struct {
	DotWidth  int
	Quality   byte
	Energy    uint16
	FeedLines uint16
}

func DefaultPrintOptions() PrintOptions {
	return PrintOptions{
		DotWidth:  384,
		Quality:   0x33,
		Energy:    12000,
		FeedLines: 50,
	}
}

// PackPrintImage builds the full command stream for one image. The result
// is not chunked.
func PackPrintImage(matrix [][]bool, opts PrintOptions) ([]byte, error) {
	if len(matrix) == 0 {
		return nil, ErrEmptyMatrix
	}
	if len(matrix) > MaxImageRows {
		return nil, fmt.Errorf("%w: %d rows", ErrImageTooTall, len(matrix))
	}
	for y, row := range matrix {
		if len(row) != opts.DotWidth {
			return nil, fmt.Errorf("%w: row %d has %d dots, want %d", ErrRowWidth, y, len(row), opts.DotWidth)
		}
	}

	rowSize := frameOverhead + (opts.DotWidth+7)/8
	out := make([]byte, 0, rowSize*len(matrix)+128)
	out = SetQuality(opts.Quality).AppendPack(out)
	out = SetEnergy(opts.Energy).AppendPack(out)
	out = ApplyEnergy().AppendPack(out)
	out = LatticeStart().AppendPack(out)
	for _, row := range matrix {
		out = DrawBitmap(row).AppendPack(out)
	}
	out = FeedPaper(opts.FeedLines).AppendPack(out)
	out = LatticeEnd().AppendPack(out)
	return out, nil
}

var crcTable = func() (t [256]byte) {
	for i := range t {
		c := byte(i)
		for j := 0; j < 8; j++ {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x07
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crcTable[crc^b]
	}
	return crc
}
