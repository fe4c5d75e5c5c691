//go:build linux

package link

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/config"
	"github.com/orrn/catspool/internal/core"
)

// HCITransport drives a local controller through a raw HCI socket. It needs
// CAP_NET_ADMIN and the adapter must not be claimed by bluetoothd.
type HCITransport struct {
	hciDevice      int
	connectTimeout time.Duration
	serviceID      ble.UUID
	writeID        ble.UUID
	notifyID       ble.UUID
	logger         *zap.Logger

	mu       sync.Mutex
	sinks    sinks
	dev      *linux.Device
	stopScan context.CancelFunc
	scanGen  uint64
	client   ble.Client
	writer   *ble.Characteristic
	gen      uint64
}

func NewHCITransport(cfg config.PrinterConfig, logger *zap.Logger) (*HCITransport, error) {
	svc, err := ble.Parse(cfg.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service uuid: %w", err)
	}
	wr, err := ble.Parse(cfg.WriteUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse write uuid: %w", err)
	}
	nt, err := ble.Parse(cfg.NotifyUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notify uuid: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HCITransport{
		hciDevice:      cfg.HCIDevice,
		connectTimeout: cfg.ConnectTimeout,
		serviceID:      svc,
		writeID:        wr,
		notifyID:       nt,
		logger:         logger.Named("link"),
	}, nil
}

func (t *HCITransport) Bind(link core.LinkEventSink, transfer core.TransferEventSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = sinks{link: link, transfer: transfer}
}

func (t *HCITransport) device() (*linux.Device, error) {
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := linux.NewDevice(ble.OptDeviceID(t.hciDevice))
	if err != nil {
		return nil, fmt.Errorf("failed to open hci%d: %w", t.hciDevice, err)
	}
	t.dev = dev
	return dev, nil
}

func (t *HCITransport) advertisesService(a ble.Advertisement) bool {
	for _, u := range a.Services() {
		if u.Equal(t.serviceID) {
			return true
		}
	}
	return false
}

func (t *HCITransport) StartScan(serviceUUID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	dev, err := t.device()
	if err != nil {
		return err
	}
	if t.stopScan != nil {
		return nil
	}
	if serviceUUID != "" {
		svc, err := ble.Parse(serviceUUID)
		if err != nil {
			return fmt.Errorf("failed to parse service uuid: %w", err)
		}
		t.serviceID = svc
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.stopScan = cancel
	t.scanGen++
	gen := t.scanGen
	go func() {
		err := dev.Scan(ctx, false, func(a ble.Advertisement) {
			if !t.advertisesService(a) && !isPrinterName(a.LocalName()) {
				return
			}
			t.mu.Lock()
			link := t.sinks.link
			t.mu.Unlock()
			if link != nil {
				link.OnDiscovered(core.Peripheral{ID: strings.ToUpper(a.Addr().String()), Name: a.LocalName()})
			}
		})
		t.mu.Lock()
		unexpected := t.stopScan != nil && t.scanGen == gen
		if unexpected {
			t.stopScan = nil
		}
		link := t.sinks.link
		t.mu.Unlock()
		cancel()
		if !unexpected {
			return
		}
		if err == nil {
			err = ErrScanEnded
		}
		t.logger.Warn("scan ended", zap.Error(err))
		if link != nil {
			link.OnScanStopped(err)
		}
	}()
	return nil
}

func (t *HCITransport) StopScan() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopScan != nil {
		t.stopScan()
		t.stopScan = nil
		t.scanGen++
	}
	return nil
}

func (t *HCITransport) Connect(deviceID string) error {
	t.mu.Lock()
	dev, err := t.device()
	gen := t.gen
	t.mu.Unlock()
	if err != nil {
		return err
	}

	go func() {
		ctx := context.Background()
		if t.connectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.connectTimeout)
			defer cancel()
		}
		client, err := dev.Dial(ctx, ble.NewAddr(deviceID))

		t.mu.Lock()
		stale := t.gen != gen
		if err == nil && !stale {
			t.client = client
		}
		link := t.sinks.link
		t.mu.Unlock()

		switch {
		case stale:
			if err == nil {
				_ = client.CancelConnection()
			}
			return
		case err != nil:
			t.logger.Warn("connect failed", zap.String("device_id", deviceID), zap.Error(err))
			if link != nil {
				link.OnDisconnected(err)
			}
			return
		}

		go t.watch(client, gen)
		if link != nil {
			link.OnConnected(deviceID)
		}
	}()
	return nil
}

func (t *HCITransport) watch(client ble.Client, gen uint64) {
	<-client.Disconnected()
	t.mu.Lock()
	current := t.gen == gen
	if current {
		t.dropLocked()
	}
	link := t.sinks.link
	t.mu.Unlock()
	if current && link != nil {
		link.OnDisconnected(ErrLinkLost)
	}
}

func (t *HCITransport) DiscoverEndpoints() error {
	t.mu.Lock()
	client, gen := t.client, t.gen
	t.mu.Unlock()
	if client == nil {
		return ErrNoDevice
	}

	go func() {
		chunk, err := t.discover(client, gen)
		t.mu.Lock()
		stale := t.gen != gen
		link := t.sinks.link
		t.mu.Unlock()
		if stale || link == nil {
			return
		}
		if err != nil {
			t.logger.Warn("characteristic discovery failed", zap.Error(err))
			link.OnDisconnected(err)
			return
		}
		link.OnEndpointsResolved(chunk)
	}()
	return nil
}

func (t *HCITransport) discover(client ble.Client, gen uint64) (int, error) {
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return 0, fmt.Errorf("failed to discover profile: %w", err)
	}

	var writer, notifier *ble.Characteristic
	for _, s := range profile.Services {
		if !s.UUID.Equal(t.serviceID) {
			continue
		}
		for _, c := range s.Characteristics {
			switch {
			case c.UUID.Equal(t.writeID):
				writer = c
			case c.UUID.Equal(t.notifyID):
				notifier = c
			}
		}
	}
	if writer == nil || notifier == nil {
		return 0, core.ErrEndpointsNotFound
	}

	mtu, err := client.ExchangeMTU(ble.MaxMTU)
	if err != nil {
		t.logger.Debug("mtu exchange failed, using default chunk size", zap.Error(err))
		mtu = 0
	}

	err = client.Subscribe(notifier, false, func(req []byte) {
		t.mu.Lock()
		transfer := t.sinks.transfer
		current := t.gen == gen
		t.mu.Unlock()
		if current && transfer != nil {
			transfer.OnNotification(bytes.Clone(req))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to subscribe: %w", err)
	}

	t.mu.Lock()
	if t.gen == gen {
		t.writer = writer
	}
	t.mu.Unlock()
	return chunkSize(mtu), nil
}

func (t *HCITransport) Write(data []byte) error {
	t.mu.Lock()
	client, writer := t.client, t.writer
	t.mu.Unlock()
	if client == nil || writer == nil {
		return core.ErrNotConnected
	}
	if err := client.WriteCharacteristic(writer, data, true); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func (t *HCITransport) Disconnect() error {
	t.mu.Lock()
	client := t.client
	t.dropLocked()
	t.mu.Unlock()
	if client == nil {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}

func (t *HCITransport) dropLocked() {
	t.gen++
	t.client = nil
	t.writer = nil
}
