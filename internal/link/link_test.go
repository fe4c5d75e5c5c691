package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/orrn/catspool/internal/config"
	"github.com/orrn/catspool/internal/core"
)

func TestIsPrinterName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"GB02", true},
		{"mx06", true},
		{" MX10-1A2B ", true},
		{"YT01", true},
		{"Pixel 8", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isPrinterName(tt.name), tt.name)
	}
}

func TestChunkSize(t *testing.T) {
	assert.Equal(t, 0, chunkSize(0))
	assert.Equal(t, 0, chunkSize(3))
	assert.Equal(t, 20, chunkSize(23))
	assert.Equal(t, 509, chunkSize(512))
}

func TestNewRejectsUnknownTransport(t *testing.T) {
	cfg := config.Default().Printer
	cfg.Transport = "serial"
	_, err := New(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewBluetoothTransportValidatesUUIDs(t *testing.T) {
	cfg := config.Default().Printer
	cfg.WriteUUID = "not-a-uuid"
	_, err := NewBluetoothTransport(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestBluetoothTransportRequiresLink(t *testing.T) {
	tr, err := NewBluetoothTransport(config.Default().Printer, zaptest.NewLogger(t))
	require.NoError(t, err)

	var _ core.Transport = tr
	assert.ErrorIs(t, tr.Write([]byte{0x01}), core.ErrNotConnected)
	assert.ErrorIs(t, tr.DiscoverEndpoints(), ErrNoDevice)
	assert.ErrorIs(t, tr.Connect("AA:BB:CC:DD:EE:FF"), ErrUnknownDevice)
	assert.NoError(t, tr.Disconnect())
	assert.NoError(t, tr.StopScan())
}
