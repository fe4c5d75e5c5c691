//go:build !linux

package link

import (
	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/config"
	"github.com/orrn/catspool/internal/core"
)

// HCITransport is unavailable outside linux.
type HCITransport struct{}

func NewHCITransport(config.PrinterConfig, *zap.Logger) (*HCITransport, error) {
	return nil, ErrHCIUnsupported
}

func (*HCITransport) Bind(core.LinkEventSink, core.TransferEventSink) {}
func (*HCITransport) StartScan(string) error                          { return ErrHCIUnsupported }
func (*HCITransport) StopScan() error                                 { return nil }
func (*HCITransport) Connect(string) error                            { return ErrHCIUnsupported }
func (*HCITransport) DiscoverEndpoints() error                        { return ErrHCIUnsupported }
func (*HCITransport) Write([]byte) error                              { return ErrHCIUnsupported }
func (*HCITransport) Disconnect() error                               { return nil }
