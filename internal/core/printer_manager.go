package core

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/config"
	"github.com/orrn/catspool/internal/raster"
)

const defaultChunkSize = 20

type Option func(*PrinterManager)

func WithScheduler(s Scheduler) Option {
	return func(pm *PrinterManager) {
		pm.scheduler = s
	}
}

func WithObserver(o Observer) Option {
	return func(pm *PrinterManager) {
		pm.observers = append(pm.observers, o)
	}
}

type scheduled struct {
	timer Timer
}

// PrinterManager drives one printer over a Transport. All state lives on the
// goroutine running Run; public methods and transport callbacks only enqueue
// work for it and return immediately.
type PrinterManager struct {
	transport      Transport
	pipeline       *raster.Pipeline
	printOpts      PrintOptions
	serviceUUID    string
	pacingInterval time.Duration
	rescanInterval time.Duration
	connectTimeout time.Duration
	scheduler      Scheduler
	observers      Observers
	logger         *zap.Logger

	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}

	state atomic.Int32

	target   string
	deviceID string
	queue    *JobQueue
	current  *CurrentJob
	mtu      int
	pacing   *scheduled
	rescan   *scheduled
	connect  *scheduled
}

func NewPrinterManager(transport Transport, cfg *config.PrinterConfig, logger *zap.Logger, opts ...Option) (*PrinterManager, error) {
	alg, err := raster.ParseAlgorithm(cfg.Dither)
	if err != nil {
		return nil, fmt.Errorf("failed to create printer manager: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pm := &PrinterManager{
		transport: transport,
		pipeline:  raster.NewPipeline(cfg.DotWidth, alg).WithMaxRows(MaxImageRows),
		printOpts: PrintOptions{
			DotWidth:  cfg.DotWidth,
			Quality:   DefaultPrintOptions().Quality,
			Energy:    cfg.Energy,
			FeedLines: cfg.FeedLines,
		},
		serviceUUID:    cfg.ServiceUUID,
		pacingInterval: cfg.PacingInterval,
		rescanInterval: cfg.RescanInterval,
		connectTimeout: cfg.ConnectTimeout,
		scheduler:      SystemScheduler,
		logger:         logger.Named("printer"),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		target:         cfg.DeviceID,
		queue:          NewJobQueue(cfg.MaxQueuedJobs),
	}
	for _, opt := range opts {
		opt(pm)
	}
	transport.Bind(pm, pm)
	return pm, nil
}

// Run processes controller work until ctx is cancelled, then releases the
// link and drops any queued jobs.
func (pm *PrinterManager) Run(ctx context.Context) error {
	defer close(pm.done)
	for {
		select {
		case <-ctx.Done():
			pm.mu.Lock()
			pm.closed = true
			pm.pending = nil
			pm.mu.Unlock()
			pm.reset("shutdown")
			return nil
		case <-pm.wake:
			for _, fn := range pm.drain() {
				fn()
			}
		}
	}
}

// Done is closed once Run has returned.
func (pm *PrinterManager) Done() <-chan struct{} {
	return pm.done
}

func (pm *PrinterManager) dispatch(fn func()) bool {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return false
	}
	pm.pending = append(pm.pending, fn)
	pm.mu.Unlock()

	select {
	case pm.wake <- struct{}{}:
	default:
	}
	return true
}

func (pm *PrinterManager) drain() []func() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	fns := pm.pending
	pm.pending = nil
	return fns
}

// Start begins looking for the printer whose address or advertised name is
// deviceID. An empty id accepts the first printer advertising the printer
// service. Queued jobs are kept.
func (pm *PrinterManager) Start(deviceID string) error {
	if !pm.dispatch(func() { pm.start(deviceID) }) {
		return ErrControllerClosed
	}
	return nil
}

// Stop releases the link, cancels timers and drops every job.
func (pm *PrinterManager) Stop() error {
	if !pm.dispatch(func() { pm.reset("stopped") }) {
		return ErrControllerClosed
	}
	return nil
}

// Submit queues img and returns the job id. A full queue or an image that
// fails to render is reported through observers, not here.
func (pm *PrinterManager) Submit(img image.Image) (string, error) {
	job := &PrintJob{
		ID:          uuid.NewString(),
		Image:       img,
		SubmittedAt: time.Now(),
	}
	if !pm.dispatch(func() { pm.submit(job) }) {
		return "", ErrControllerClosed
	}
	return job.ID, nil
}

func (pm *PrinterManager) State() ConnectionState {
	return ConnectionState(pm.state.Load())
}

func (pm *PrinterManager) Snapshot(ctx context.Context) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	if !pm.dispatch(func() { ch <- pm.snapshot() }) {
		return Snapshot{}, ErrControllerClosed
	}
	select {
	case s := <-ch:
		return s, nil
	case <-pm.done:
		return Snapshot{}, ErrControllerClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (pm *PrinterManager) OnDiscovered(p Peripheral) {
	pm.dispatch(func() { pm.handleDiscovered(p) })
}

func (pm *PrinterManager) OnConnected(deviceID string) {
	pm.dispatch(func() { pm.handleConnected(deviceID) })
}

func (pm *PrinterManager) OnEndpointsResolved(maxChunk int) {
	pm.dispatch(func() { pm.handleEndpointsResolved(maxChunk) })
}

func (pm *PrinterManager) OnDisconnected(err error) {
	pm.dispatch(func() { pm.handleDisconnected(err) })
}

func (pm *PrinterManager) OnScanStopped(err error) {
	pm.dispatch(func() { pm.handleScanStopped(err) })
}

func (pm *PrinterManager) OnNotification(data []byte) {
	pm.dispatch(func() { pm.handleNotification(data) })
}

// Everything below runs on the controller loop.

func (pm *PrinterManager) snapshot() Snapshot {
	s := Snapshot{
		State:    pm.State(),
		DeviceID: pm.deviceID,
		QueueLen: pm.queue.Len(),
		Queued:   pm.queue.IDs(),
	}
	if s.DeviceID == "" {
		s.DeviceID = pm.target
	}
	if pm.current != nil {
		s.CurrentJob = pm.current.progress()
	}
	return s
}

func (pm *PrinterManager) setState(s ConnectionState) {
	old := pm.State()
	if old == s {
		return
	}
	pm.state.Store(int32(s))
	pm.logger.Info("state changed", zap.Stringer("from", old), zap.Stringer("to", s))
	pm.observers.StateChanged(old, s)
}

func (pm *PrinterManager) emit(ev JobEvent) {
	ev.Time = time.Now()
	pm.observers.JobEvent(ev)
}

func (pm *PrinterManager) schedule(slot **scheduled, d time.Duration, fn func()) {
	pm.cancel(slot)
	s := &scheduled{}
	*slot = s
	s.timer = pm.scheduler.AfterFunc(d, func() {
		pm.dispatch(func() {
			if *slot != s {
				return
			}
			*slot = nil
			fn()
		})
	})
}

func (pm *PrinterManager) cancel(slot **scheduled) {
	if *slot == nil {
		return
	}
	(*slot).timer.Stop()
	*slot = nil
}

func (pm *PrinterManager) start(target string) {
	pm.target = target
	pm.reconnect("restarted")
}

func (pm *PrinterManager) reset(reason string) {
	pm.releaseLink(reason)
	for _, job := range pm.queue.Clear() {
		pm.emit(JobEvent{Type: JobAborted, JobID: job.ID, Reason: reason})
	}
	pm.setState(StateDisconnected)
}

// releaseLink cancels every timer, aborts the job in flight and lets go of
// whatever the transport is doing.
func (pm *PrinterManager) releaseLink(reason string) {
	pm.cancel(&pm.pacing)
	pm.cancel(&pm.rescan)
	pm.cancel(&pm.connect)

	if pm.current != nil {
		pm.logger.Info("aborting job in flight",
			zap.String("job_id", pm.current.ID),
			zap.Int("offset", pm.current.Offset()),
			zap.Int("total", pm.current.Total()),
			zap.String("reason", reason),
		)
		pm.emit(JobEvent{
			Type:   JobAborted,
			JobID:  pm.current.ID,
			Reason: reason,
			Bytes:  pm.current.Offset(),
			Chunks: pm.current.chunks,
		})
		pm.current = nil
	}

	switch pm.State() {
	case StateDiscovering:
		if err := pm.transport.StopScan(); err != nil {
			pm.logger.Debug("failed to stop scan", zap.Error(err))
		}
	case StateConnecting, StateConnected:
		if err := pm.transport.Disconnect(); err != nil {
			pm.logger.Debug("failed to disconnect", zap.Error(err))
		}
	}
	pm.deviceID = ""
	pm.mtu = 0
}

func (pm *PrinterManager) reconnect(reason string) {
	pm.releaseLink(reason)
	pm.setState(StateDiscovering)
	pm.scan()
}

func (pm *PrinterManager) scan() {
	if pm.State() != StateDiscovering {
		return
	}
	if err := pm.transport.StartScan(pm.serviceUUID); err != nil {
		pm.logger.Warn("failed to start scan",
			zap.Error(err),
			zap.Duration("retry_in", pm.rescanInterval),
		)
		pm.schedule(&pm.rescan, pm.rescanInterval, pm.scan)
	}
}

// handleScanStopped restarts discovery after the transport gave up
// scanning on its own.
func (pm *PrinterManager) handleScanStopped(err error) {
	if pm.State() != StateDiscovering {
		return
	}
	pm.logger.Warn("scan stopped",
		zap.Error(err),
		zap.Duration("retry_in", pm.rescanInterval),
	)
	pm.schedule(&pm.rescan, pm.rescanInterval, pm.scan)
}

func (pm *PrinterManager) handleDiscovered(p Peripheral) {
	if pm.State() != StateDiscovering {
		return
	}
	if !p.Matches(pm.target) {
		return
	}
	pm.cancel(&pm.rescan)
	if err := pm.transport.StopScan(); err != nil {
		pm.logger.Debug("failed to stop scan", zap.Error(err))
	}

	pm.logger.Info("printer found", zap.String("device_id", p.ID), zap.String("name", p.Name))
	pm.deviceID = p.ID
	pm.setState(StateConnecting)
	if err := pm.transport.Connect(p.ID); err != nil {
		pm.logger.Warn("failed to connect", zap.String("device_id", p.ID), zap.Error(err))
		pm.reconnect("connect failed")
		return
	}
	if pm.connectTimeout > 0 {
		pm.schedule(&pm.connect, pm.connectTimeout, func() {
			if pm.State() == StateConnecting {
				pm.logger.Warn("connect timed out", zap.Duration("timeout", pm.connectTimeout))
				pm.reconnect("connect timeout")
			}
		})
	}
}

func (pm *PrinterManager) handleConnected(deviceID string) {
	if pm.State() != StateConnecting || !strings.EqualFold(deviceID, pm.deviceID) {
		return
	}
	if err := pm.transport.DiscoverEndpoints(); err != nil {
		pm.logger.Warn("failed to discover characteristics", zap.Error(err))
		pm.reconnect("discovery failed")
	}
}

func (pm *PrinterManager) handleEndpointsResolved(maxChunk int) {
	if pm.State() != StateConnecting {
		return
	}
	pm.cancel(&pm.connect)
	if maxChunk <= 0 {
		maxChunk = defaultChunkSize
	}
	pm.mtu = maxChunk
	pm.setState(StateConnected)
	pm.advance()
}

func (pm *PrinterManager) handleDisconnected(err error) {
	switch pm.State() {
	case StateConnecting, StateConnected:
	default:
		return
	}
	pm.logger.Info("link lost", zap.String("device_id", pm.deviceID), zap.Error(err))
	pm.reconnect("link lost")
}

func (pm *PrinterManager) submit(job *PrintJob) {
	if !pm.queue.Push(job) {
		pm.logger.Info("queue full, discarding image",
			zap.String("job_id", job.ID),
			zap.Int("capacity", pm.queue.Cap()),
		)
		pm.emit(JobEvent{Type: JobDropped, JobID: job.ID, Reason: "queue full"})
		return
	}
	pm.emit(JobEvent{Type: JobQueued, JobID: job.ID})
	pm.advance()
}

// advance starts the next queued job when the link is up and idle.
func (pm *PrinterManager) advance() {
	if pm.current != nil || pm.queue.Len() == 0 {
		return
	}
	switch pm.State() {
	case StateDisconnected:
		pm.reconnect("job waiting")
		return
	case StateDiscovering, StateConnecting:
		return
	}

	for {
		job, ok := pm.queue.Pop()
		if !ok {
			return
		}
		payload, w, h, err := pm.render(job)
		if err != nil {
			pm.logger.Info("dropping image", zap.String("job_id", job.ID), zap.Error(err))
			pm.emit(JobEvent{Type: JobFailed, JobID: job.ID, Reason: err.Error()})
			continue
		}

		cj := newCurrentJob(job.ID, payload, pm.mtu)
		cj.Width, cj.Height = w, h
		cj.StartedAt = time.Now()
		pm.current = cj

		if err := pm.transport.Write(GetDeviceState().Pack()); err != nil {
			pm.logger.Warn("failed to query device state", zap.Error(err))
			pm.reconnect("write failed")
			return
		}
		cj.advanceTo(TransferWaitingForReady)
		pm.logger.Info("job started",
			zap.String("job_id", cj.ID),
			zap.Int("bytes", cj.Total()),
			zap.Int("mtu", pm.mtu),
		)
		pm.emit(JobEvent{Type: JobStarted, JobID: cj.ID, Width: w, Height: h, Bytes: cj.Total()})
		return
	}
}

func (pm *PrinterManager) render(job *PrintJob) ([]byte, int, int, error) {
	matrix, err := pm.pipeline.Process(job.Image)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to rasterize image: %w", err)
	}
	payload, err := PackPrintImage(matrix, pm.printOpts)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to pack image: %w", err)
	}
	return payload, pm.pipeline.DotWidth(), len(matrix), nil
}

func (pm *PrinterManager) handleNotification(data []byte) {
	if pm.current == nil {
		return
	}
	cmd, ok := ParseCommand(data)
	if !ok {
		pm.logger.Debug("ignoring notification", zap.Binary("data", data))
		return
	}
	switch pm.current.Stage() {
	case TransferWaitingForReady:
		if cmd.ID == CmdGetDeviceState {
			pm.current.advanceTo(TransferWritingChunks)
			pm.sendNextChunk()
		}
	case TransferWritingChunks:
		if cmd.ID == CmdWritePacing {
			pm.sendNextChunk()
		}
	}
}

// sendNextChunk writes the next slice of the payload and arms the pacing
// fallback. Whichever of ack or fallback comes first wins; the other is
// dropped because the slot has already been replaced.
func (pm *PrinterManager) sendNextChunk() {
	pm.cancel(&pm.pacing)
	cj := pm.current
	if cj == nil || cj.Stage() != TransferWritingChunks {
		return
	}

	chunk := cj.nextChunk()
	if chunk == nil {
		pm.current = nil
		elapsed := time.Since(cj.StartedAt)
		pm.logger.Info("job completed",
			zap.String("job_id", cj.ID),
			zap.Int("chunks", cj.chunks),
			zap.Duration("elapsed", elapsed),
		)
		pm.emit(JobEvent{
			Type:     JobCompleted,
			JobID:    cj.ID,
			Width:    cj.Width,
			Height:   cj.Height,
			Bytes:    cj.Total(),
			Chunks:   cj.chunks,
			Duration: elapsed,
		})
		pm.advance()
		return
	}

	if err := pm.transport.Write(chunk); err != nil {
		pm.logger.Warn("failed to write chunk", zap.String("job_id", cj.ID), zap.Error(err))
		pm.reconnect("write failed")
		return
	}
	pm.logger.Debug("chunk sent",
		zap.String("job_id", cj.ID),
		zap.Int("offset", cj.Offset()),
		zap.Int("size", len(chunk)),
	)
	pm.schedule(&pm.pacing, pm.pacingInterval, pm.sendNextChunk)
}
