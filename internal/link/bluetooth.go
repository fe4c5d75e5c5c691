package link

import (
	"bytes"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/orrn/catspool/internal/config"
	"github.com/orrn/catspool/internal/core"
)

// BluetoothTransport talks to the printer through the OS Bluetooth stack
// (BlueZ over D-Bus, CoreBluetooth or WinRT).
type BluetoothTransport struct {
	adapter   *bluetooth.Adapter
	serviceID bluetooth.UUID
	writeID   bluetooth.UUID
	notifyID  bluetooth.UUID
	logger    *zap.Logger

	mu        sync.Mutex
	sinks     sinks
	enabled   bool
	scanning  bool
	scanGen   uint64
	seen      map[string]bluetooth.Address
	device    bluetooth.Device
	connected bool
	writer    bluetooth.DeviceCharacteristic
	hasWriter bool
	// gen changes whenever the link is torn down so results of calls that
	// were in flight at the time are discarded.
	gen uint64
}

func NewBluetoothTransport(cfg config.PrinterConfig, logger *zap.Logger) (*BluetoothTransport, error) {
	svc, err := bluetooth.ParseUUID(cfg.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service uuid: %w", err)
	}
	wr, err := bluetooth.ParseUUID(cfg.WriteUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse write uuid: %w", err)
	}
	nt, err := bluetooth.ParseUUID(cfg.NotifyUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notify uuid: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BluetoothTransport{
		adapter:   bluetooth.DefaultAdapter,
		serviceID: svc,
		writeID:   wr,
		notifyID:  nt,
		logger:    logger.Named("link"),
		seen:      make(map[string]bluetooth.Address),
	}, nil
}

func (t *BluetoothTransport) Bind(link core.LinkEventSink, transfer core.TransferEventSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = sinks{link: link, transfer: transfer}
}

func (t *BluetoothTransport) enable() error {
	if t.enabled {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}
	t.adapter.SetConnectHandler(t.onConnectChange)
	t.enabled = true
	return nil
}

func (t *BluetoothTransport) onConnectChange(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	t.mu.Lock()
	current := t.connected && t.device.Address.String() == dev.Address.String()
	if current {
		t.dropLocked()
	}
	link := t.sinks.link
	t.mu.Unlock()

	if current && link != nil {
		link.OnDisconnected(ErrLinkLost)
	}
}

func (t *BluetoothTransport) StartScan(serviceUUID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enable(); err != nil {
		return err
	}
	if t.scanning {
		return nil
	}
	svc := t.serviceID
	if serviceUUID != "" {
		parsed, err := bluetooth.ParseUUID(serviceUUID)
		if err != nil {
			return fmt.Errorf("failed to parse service uuid: %w", err)
		}
		svc = parsed
	}
	t.scanning = true
	t.scanGen++
	gen := t.scanGen

	go func() {
		err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(svc) && !isPrinterName(result.LocalName()) {
				return
			}
			id := result.Address.String()
			t.mu.Lock()
			t.seen[id] = result.Address
			link := t.sinks.link
			t.mu.Unlock()
			if link != nil {
				link.OnDiscovered(core.Peripheral{ID: id, Name: result.LocalName()})
			}
		})
		t.mu.Lock()
		// A scan that StopScan did not end is reported so the controller
		// can start another one.
		unexpected := t.scanning && t.scanGen == gen
		if unexpected {
			t.scanning = false
		}
		link := t.sinks.link
		t.mu.Unlock()
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

func (t *BluetoothTransport) StopScan() error {
	t.mu.Lock()
	scanning := t.scanning
	t.scanning = false
	t.scanGen++
	t.mu.Unlock()
	if !scanning {
		return nil
	}
	if err := t.adapter.StopScan(); err != nil {
		return fmt.Errorf("failed to stop scan: %w", err)
	}
	return nil
}

func (t *BluetoothTransport) Connect(deviceID string) error {
	t.mu.Lock()
	addr, ok := t.seen[deviceID]
	gen := t.gen
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	go func() {
		dev, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})

		t.mu.Lock()
		stale := t.gen != gen
		if err == nil && !stale {
			t.device = dev
			t.connected = true
		}
		link := t.sinks.link
		t.mu.Unlock()

		switch {
		case stale:
			if err == nil {
				_ = dev.Disconnect()
			}
		case err != nil:
			t.logger.Warn("connect failed", zap.String("device_id", deviceID), zap.Error(err))
			if link != nil {
				link.OnDisconnected(err)
			}
		case link != nil:
			link.OnConnected(deviceID)
		}
	}()
	return nil
}

func (t *BluetoothTransport) DiscoverEndpoints() error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrNoDevice
	}
	dev, gen := t.device, t.gen
	t.mu.Unlock()

	go func() {
		chunk, err := t.discover(dev, gen)
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

func (t *BluetoothTransport) discover(dev bluetooth.Device, gen uint64) (int, error) {
	services, err := dev.DiscoverServices([]bluetooth.UUID{t.serviceID})
	if err != nil {
		return 0, fmt.Errorf("failed to discover services: %w", err)
	}
	if len(services) == 0 {
		return 0, core.ErrEndpointsNotFound
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{t.writeID, t.notifyID})
	if err != nil {
		return 0, fmt.Errorf("failed to discover characteristics: %w", err)
	}

	var writer, notifier bluetooth.DeviceCharacteristic
	var haveWriter, haveNotifier bool
	for _, c := range chars {
		switch c.UUID() {
		case t.writeID:
			writer, haveWriter = c, true
		case t.notifyID:
			notifier, haveNotifier = c, true
		}
	}
	if !haveWriter || !haveNotifier {
		return 0, core.ErrEndpointsNotFound
	}

	err = notifier.EnableNotifications(func(buf []byte) {
		t.mu.Lock()
		transfer := t.sinks.transfer
		current := t.gen == gen
		t.mu.Unlock()
		if current && transfer != nil {
			transfer.OnNotification(bytes.Clone(buf))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to enable notifications: %w", err)
	}

	mtu, err := writer.GetMTU()
	if err != nil {
		t.logger.Debug("mtu unavailable, using default chunk size", zap.Error(err))
		mtu = 0
	}

	t.mu.Lock()
	if t.gen == gen {
		t.writer = writer
		t.hasWriter = true
	}
	t.mu.Unlock()
	return chunkSize(int(mtu)), nil
}

func (t *BluetoothTransport) Write(data []byte) error {
	t.mu.Lock()
	writer, ok := t.writer, t.hasWriter
	t.mu.Unlock()
	if !ok {
		return core.ErrNotConnected
	}
	if _, err := writer.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func (t *BluetoothTransport) Disconnect() error {
	t.mu.Lock()
	dev, connected := t.device, t.connected
	t.dropLocked()
	t.mu.Unlock()

	if !connected {
		return nil
	}
	if err := dev.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}

func (t *BluetoothTransport) dropLocked() {
	t.gen++
	t.connected = false
	t.hasWriter = false
	t.writer = bluetooth.DeviceCharacteristic{}
	t.device = bluetooth.Device{}
}
