package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrControllerClosed  = errors.New("printer controller is closed")
	ErrNotConnected      = errors.New("printer link is not connected")
	ErrEndpointsNotFound = errors.New("printer write or notify characteristic not found")
)

type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateDiscovering
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TransferState is the stage of the job currently on the wire. Stages only
// move forward: idle, waiting for ready, writing chunks.
type TransferState int

const (
	TransferIdle TransferState = iota
	TransferWaitingForReady
	TransferWritingChunks
)

func (s TransferState) String() string {
	switch s {
	case TransferIdle:
		return "idle"
	case TransferWaitingForReady:
		return "waiting_for_ready"
	case TransferWritingChunks:
		return "writing_chunks"
	default:
		return fmt.Sprintf("TransferState(%d)", int(s))
	}
}

func (s TransferState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Peripheral is a device seen while scanning.
type Peripheral struct {
	ID   string
	Name string
}

// Matches reports whether target names this peripheral by address or by
// advertised name, ignoring case. An empty target matches anything.
func (p Peripheral) Matches(target string) bool {
	if target == "" {
		return true
	}
	return strings.EqualFold(p.ID, target) || (p.Name != "" && strings.EqualFold(p.Name, target))
}

// LinkEventSink receives connection lifecycle callbacks from a Transport.
type LinkEventSink interface {
	OnDiscovered(p Peripheral)
	OnConnected(deviceID string)
	OnEndpointsResolved(maxChunk int)
	OnDisconnected(err error)
	// OnScanStopped reports a scan that ended without StopScan being called.
	OnScanStopped(err error)
}

// TransferEventSink receives bytes notified by the printer.
type TransferEventSink interface {
	OnNotification(data []byte)
}

// Transport is the wireless link to one printer. Calls return once the
// request has been issued; outcomes arrive through the bound sinks, which
// may be invoked from any goroutine.
type Transport interface {
	Bind(link LinkEventSink, transfer TransferEventSink)
	StartScan(serviceUUID string) error
	StopScan() error
	Connect(deviceID string) error
	DiscoverEndpoints() error
	Write(data []byte) error
	Disconnect() error
}

type JobEventType string

const (
	JobQueued    JobEventType = "queued"
	JobDropped   JobEventType = "dropped"
	JobFailed    JobEventType = "failed"
	JobStarted   JobEventType = "started"
	JobCompleted JobEventType = "completed"
	JobAborted   JobEventType = "aborted"
)

type JobEvent struct {
	Type     JobEventType  `json:"type"`
	JobID    string        `json:"job_id"`
	Reason   string        `json:"reason,omitempty"`
	Width    int           `json:"width,omitempty"`
	Height   int           `json:"height,omitempty"`
	Bytes    int           `json:"bytes,omitempty"`
	Chunks   int           `json:"chunks,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Time     time.Time     `json:"time"`
}

// Observer is notified from the controller loop. Implementations must not
// block and must not call back into the controller synchronously.
type Observer interface {
	StateChanged(from, to ConnectionState)
	JobEvent(ev JobEvent)
}

type Observers []Observer

func (o Observers) StateChanged(from, to ConnectionState) {
	for _, obs := range o {
		obs.StateChanged(from, to)
	}
}

func (o Observers) JobEvent(ev JobEvent) {
	for _, obs := range o {
		obs.JobEvent(ev)
	}
}

type JobProgress struct {
	ID     string        `json:"id"`
	Stage  TransferState `json:"stage"`
	Offset int           `json:"offset"`
	Total  int           `json:"total"`
}

type Snapshot struct {
	State      ConnectionState `json:"state"`
	DeviceID   string          `json:"device_id"`
	QueueLen   int             `json:"queue_length"`
	Queued     []string        `json:"queued"`
	CurrentJob *JobProgress    `json:"current_job,omitempty"`
}
