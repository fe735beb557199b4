// Copyright 2026 The Prefork Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prefork

import (
	"log"
	"sync"
	"time"
)

// State is the connection state of a worker.
type State int

const (
	StateStarting State = iota
	StateListening
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "starting":
		*s = StateStarting
	case "listening":
		*s = StateListening
	default:
		*s = StateDisconnected
	}
	return nil
}

// WorkerInfo is a snapshot of a WorkerHandle.
type WorkerInfo struct {
	ID      int         `json:"id" yaml:"id"`
	Slot    int         `json:"slot" yaml:"slot"`
	Pid     int         `json:"pid" yaml:"pid"`
	State   State       `json:"state" yaml:"state"`
	Addr    string      `json:"addr,omitempty" yaml:"addr,omitempty"`
	Started time.Time   `json:"started" yaml:"started"`
	Exit    *ExitStatus `json:"exit,omitempty" yaml:"exit,omitempty"`
}

// WorkerHandle is the master's record of one worker process.  A handle
// never leaves StateDisconnected; a replacement worker gets a new handle
// and a new ID.
type WorkerHandle struct {
	id        int
	slot      int
	proc      Process
	ch        *Channel
	logger    *log.Logger
	state     State
	addr      string
	started   time.Time
	voluntary bool
	status    ExitStatus

	ready     chan struct{}
	readyErr  error
	readyOnce sync.Once
	exited    chan struct{}
	mx        sync.Mutex
}

func newHandle(id, slot int, proc Process, ch *Channel, logger *log.Logger, now time.Time) *WorkerHandle {
	return &WorkerHandle{
		id:      id,
		slot:    slot,
		proc:    proc,
		ch:      ch,
		logger:  logger,
		state:   StateStarting,
		started: now,
		ready:   make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (h *WorkerHandle) lock() {
	h.mx.Lock()
}

func (h *WorkerHandle) unlock() {
	h.mx.Unlock()
}

func (h *WorkerHandle) ID() int {
	return h.id
}

func (h *WorkerHandle) Slot() int {
	return h.slot
}

func (h *WorkerHandle) Pid() int {
	return h.proc.Pid()
}

func (h *WorkerHandle) State() State {
	h.lock()
	defer h.unlock()
	return h.state
}

// Send implements Peer.
func (h *WorkerHandle) Send(m Message) error {
	if h.State() == StateDisconnected {
		return ErrChannelClosed
	}
	return h.ch.Send(m)
}

// Ready is closed once the worker is listening, or has failed to start.
func (h *WorkerHandle) Ready() <-chan struct{} {
	return h.ready
}

// Err returns the readiness result, once Ready is closed.
func (h *WorkerHandle) Err() error {
	<-h.ready
	return h.readyErr
}

// Exited is closed once the process has been reaped and removed from the
// pool.
func (h *WorkerHandle) Exited() <-chan struct{} {
	return h.exited
}

// settle resolves the ready future.  Only the first call has effect.
func (h *WorkerHandle) settle(e error) {
	h.readyOnce.Do(func() {
		h.readyErr = e
		close(h.ready)
	})
}

// listening records the readiness signal.  It reports false if the
// worker is no longer starting.
func (h *WorkerHandle) listening(addr string) bool {
	h.lock()
	defer h.unlock()
	if h.state != StateStarting {
		return false
	}
	h.state = StateListening
	h.addr = addr
	return true
}

func (h *WorkerHandle) markVoluntary() {
	h.lock()
	h.voluntary = true
	h.unlock()
}

// disconnect moves the handle to its terminal state, recording the exit
// status, and returns whether the master asked for the exit.
func (h *WorkerHandle) disconnect(st ExitStatus) bool {
	h.lock()
	defer h.unlock()
	h.state = StateDisconnected
	h.status = st
	return h.voluntary
}

func (h *WorkerHandle) Status() ExitStatus {
	h.lock()
	defer h.unlock()
	return h.status
}

func (h *WorkerHandle) signal(l Level) error {
	if l == LevelInterrupt {
		// Best effort; the signal follows regardless.
		h.Send(ShutdownMessage{})
	}
	return h.proc.Signal(l.Signal())
}

func (h *WorkerHandle) Info() WorkerInfo {
	h.lock()
	defer h.unlock()
	info := WorkerInfo{
		ID:      h.id,
		Slot:    h.slot,
		Pid:     h.proc.Pid(),
		State:   h.state,
		Addr:    h.addr,
		Started: h.started,
	}
	if h.state == StateDisconnected {
		st := h.status
		info.Exit = &st
	}
	return info
}
