package core

import (
	"bytes"
	"sync"
	"time"
)

type fakeTransport struct {
	mu       sync.Mutex
	link     LinkEventSink
	transfer TransferEventSink

	calls  []string
	writes [][]byte

	scanErr    error
	connectErr error
	writeErr   error
}

func (f *fakeTransport) Bind(link LinkEventSink, transfer TransferEventSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.link = link
	f.transfer = transfer
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTransport) StartScan(string) error {
	f.record("scan")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanErr
}

func (f *fakeTransport) StopScan() error {
	f.record("stop_scan")
	return nil
}

func (f *fakeTransport) Connect(deviceID string) error {
	f.record("connect " + deviceID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeTransport) DiscoverEndpoints() error {
	f.record("discover")
	return nil
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, bytes.Clone(data))
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.record("disconnect")
	return nil
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeTransport) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func (f *fakeTransport) setScanErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanErr = err
}

type manualTimer struct {
	s       *manualScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// manualScheduler never fires on its own; tests fire timers explicitly.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) Active() []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// FireAll fires every armed timer and reports how many fired.
func (s *manualScheduler) FireAll() int {
	active := s.Active()
	for _, t := range active {
		s.mu.Lock()
		t.fired = true
		s.mu.Unlock()
		t.f()
	}
	return len(active)
}

type stateChange struct {
	From, To ConnectionState
}

type recorder struct {
	mu     sync.Mutex
	states []stateChange
	events []JobEvent
}

func (r *recorder) StateChanged(from, to ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, stateChange{From: from, To: to})
}

func (r *recorder) JobEvent(ev JobEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) States() []stateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stateChange(nil), r.states...)
}

func (r *recorder) Events(types ...JobEventType) []JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []JobEvent
	for _, ev := range r.events {
		if len(types) == 0 {
			out = append(out, ev)
			continue
		}
		for _, t := range types {
			if ev.Type == t {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}
