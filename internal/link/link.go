// Package link implements core.Transport over Bluetooth LE.
package link

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/config"
	"github.com/orrn/catspool/internal/core"
)

var (
	ErrLinkLost       = errors.New("printer link lost")
	ErrScanEnded      = errors.New("scan ended unexpectedly")
	ErrUnknownDevice  = errors.New("device has not been seen while scanning")
	ErrNoDevice       = errors.New("no printer connected")
	ErrHCIUnsupported = errors.New("raw HCI transport is only available on linux")
)

// Advertised names of the printers that speak the 0x51 0x78 protocol. Many
// of them leave the service UUID out of their advertisement.
var printerNames = []string{
	"GB01", "GB02", "GB03", "GT01", "MX05", "MX06", "MX08", "MX09", "MX10", "MX11", "YT01",
}

func isPrinterName(name string) bool {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, n := range printerNames {
		if strings.HasPrefix(name, n) {
			return true
		}
	}
	return false
}

// sinks holds the controller callbacks. The zero value drops everything.
type sinks struct {
	link     core.LinkEventSink
	transfer core.TransferEventSink
}

// ATT write payload is the negotiated MTU minus the 3 byte opcode and handle.
func chunkSize(mtu int) int {
	if mtu <= 3 {
		return 0
	}
	return mtu - 3
}

// New builds the transport selected in cfg.
func New(cfg config.PrinterConfig, logger *zap.Logger) (core.Transport, error) {
	switch cfg.Transport {
	case config.TransportBlueZ, "":
		t, err := NewBluetoothTransport(cfg, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.TransportHCI:
		t, err := NewHCITransport(cfg, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}
