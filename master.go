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
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/patrickmn/go-cache"
)

// EnvMaxWorkers caps the pool size, for test and CI machines with many
// cores.
const EnvMaxWorkers = "PREFORK_MAX_WORKERS"

// MasterState is the lifecycle state of the master.
type MasterState int

const (
	MasterInitializing MasterState = iota
	MasterRunning
	MasterDraining
	MasterStopped
)

func (s MasterState) String() string {
	switch s {
	case MasterInitializing:
		return "initializing"
	case MasterRunning:
		return "running"
	case MasterDraining:
		return "draining"
	case MasterStopped:
		return "stopped"
	}
	return "unknown"
}

func (s MasterState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Options configures a Master.  Zero values select defaults.
type Options struct {
	// Workers is the pool size; zero means one per CPU.
	Workers int

	// MaxWorkers caps the pool size.  If zero, EnvMaxWorkers is
	// consulted.
	MaxWorkers int

	// ReadyTimeout bounds the wait for a new worker's readiness signal.
	// Zero waits until the worker is ready or exits.
	ReadyTimeout time.Duration

	Timeouts Timeouts

	// RateLimit and RatePeriod throttle crash recovery per slot.  A
	// negative RateLimit disables throttling.
	RateLimit  int
	RatePeriod time.Duration

	Spawner Spawner
	Clock   Clock

	// Log receives the consolidated log; Stderr receives a copy.
	Log    *Log
	Stderr io.Writer
}

// PoolSize applies the defaulting rules for the number of workers.
func PoolSize(workers, max int) int {
	n := workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if max <= 0 {
		max, _ = strconv.Atoi(os.Getenv(EnvMaxWorkers))
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

// Master supervises the worker pool.
type Master struct {
	opts      Options
	size      int
	spawner   Spawner
	clock     Clock
	bus       *ClusterBus
	control   EventBus.Bus
	rlog      *Log
	logger    *log.Logger
	workers   map[int]*WorkerHandle
	slots     map[int]*WorkerHandle
	filling   map[int]bool
	refilled  chan struct{}
	limits    map[int]*rateLimiter
	nextID    int
	state     MasterState
	started   time.Time
	exitCode  int
	stats     *cache.Cache
	cpu       cpuSampler
	stopping  chan struct{}
	drainOnce sync.Once
	restartMx sync.Mutex
	waiter    sync.WaitGroup
	mx        sync.Mutex
}

func NewMaster(opts Options) (*Master, error) {
	m := &Master{
		opts:     opts,
		size:     PoolSize(opts.Workers, opts.MaxWorkers),
		spawner:  opts.Spawner,
		clock:    opts.Clock,
		rlog:     opts.Log,
		workers:  make(map[int]*WorkerHandle),
		slots:    make(map[int]*WorkerHandle),
		filling:  make(map[int]bool),
		refilled: make(chan struct{}),
		limits:   make(map[int]*rateLimiter),
		stats:    cache.New(time.Second, time.Minute),
		stopping: make(chan struct{}),
		control:  EventBus.New(),
	}
	if m.spawner == nil {
		s, e := NewExecSpawner()
		if e != nil {
			return nil, e
		}
		m.spawner = s
	}
	if m.clock == nil {
		m.clock = RealClock
	}
	if m.rlog == nil {
		m.rlog = NewLog(0)
	}
	if m.opts.Stderr == nil {
		m.opts.Stderr = os.Stderr
	}
	if m.opts.Timeouts == (Timeouts{}) {
		m.opts.Timeouts = DefaultTimeouts
	}
	if m.opts.RateLimit == 0 {
		m.opts.RateLimit = 10
	} else if m.opts.RateLimit < 0 {
		m.opts.RateLimit = 0
	}
	if m.opts.RatePeriod <= 0 {
		m.opts.RatePeriod = time.Minute
	}
	m.logger = m.sourceLogger("master")
	m.bus = NewClusterBus(NewLocalBus(m.logger), true, m.logger)
	m.bus.On(StatusRequest, m.handleStatus)

	e := m.control.SubscribeAsync(TopicRestartRequested, m.handleRestart, true)
	if e != nil {
		return nil, fmt.Errorf("control bus: %w", e)
	}
	return m, nil
}

func (m *Master) lock() {
	m.mx.Lock()
}

func (m *Master) unlock() {
	m.mx.Unlock()
}

func (m *Master) sourceLogger(source string) *log.Logger {
	return NewMultiLogger(
		log.New(m.opts.Stderr, source+" ", log.LstdFlags),
		log.New(m.rlog.Writer(source), "", 0),
	).Logger()
}

func (m *Master) Bus() *ClusterBus {
	return m.bus
}

// Control returns the bus on which restart and shutdown requests travel.
func (m *Master) Control() EventBus.Bus {
	return m.control
}

func (m *Master) Log() *Log {
	return m.rlog
}

func (m *Master) Logger() *log.Logger {
	return m.logger
}

// Size returns the number of worker slots.
func (m *Master) Size() int {
	return m.size
}

func (m *Master) State() MasterState {
	m.lock()
	defer m.unlock()
	return m.state
}

func (m *Master) setState(s MasterState) {
	m.lock()
	m.state = s
	m.unlock()
	m.logger.Printf("Master %s", s)
	m.publish(EventMasterState, s)
}

func (m *Master) publish(name string, data ...interface{}) {
	ev, _ := NewEvent(name, KindLog, nil, data...)
	m.bus.Publish(ev)
}

// handles returns the live handles ordered by slot.  Call with the lock
// held.
func (m *Master) handles() []*WorkerHandle {
	hs := make([]*WorkerHandle, 0, len(m.workers))
	for _, h := range m.workers {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].slot != hs[j].slot {
			return hs[i].slot < hs[j].slot
		}
		return hs[i].id < hs[j].id
	})
	return hs
}

// Workers returns a snapshot of every worker in the pool.
func (m *Master) Workers() []WorkerInfo {
	m.lock()
	hs := m.handles()
	m.unlock()
	infos := make([]WorkerInfo, 0, len(hs))
	for _, h := range hs {
		infos = append(infos, h.Info())
	}
	return infos
}

func (m *Master) limiter(slot int) *rateLimiter {
	r, ok := m.limits[slot]
	if !ok {
		r = newRateLimiter(m.opts.RateLimit, m.opts.RatePeriod)
		m.limits[slot] = r
	}
	return r
}

// slotDone ends a fill of the slot, and wakes anyone waiting on it.  Call
// with the lock held.
func (m *Master) slotDone(slot int) {
	delete(m.filling, slot)
	close(m.refilled)
	m.refilled = make(chan struct{})
}

// spawn starts a worker in an empty slot.  At most one spawn per slot is
// in progress at a time; others fail with errSlotBusy.
func (m *Master) spawn(slot int) (*WorkerHandle, error) {
	m.lock()
	if m.state >= MasterDraining {
		m.unlock()
		return nil, ErrNotRunning
	}
	if m.slots[slot] != nil || m.filling[slot] {
		m.unlock()
		return nil, errSlotBusy
	}
	m.filling[slot] = true
	m.nextID++
	id := m.nextID
	m.limiter(slot).record(m.clock.Now())
	m.unlock()

	logger := m.sourceLogger(fmt.Sprintf("worker-%d", id))
	proc, rwc, e := m.spawner.Spawn(id, slot, logger)
	if e != nil {
		m.lock()
		m.slotDone(slot)
		m.unlock()
		m.logger.Printf("Failed to start worker %d in slot %d: %v", id, slot, e)
		return nil, fmt.Errorf("starting worker %d: %w", id, e)
	}
	h := newHandle(id, slot, proc, NewChannel(rwc), logger, m.clock.Now())

	m.lock()
	m.slotDone(slot)
	if m.state >= MasterDraining {
		m.unlock()
		rwc.Close()
		proc.Signal(LevelKill.Signal())
		go proc.Wait()
		return nil, ErrNotRunning
	}
	m.workers[id] = h
	m.slots[slot] = h
	m.waiter.Add(1)
	m.unlock()

	m.bus.AddPeer(h)
	m.logger.Printf("Started worker %d (pid %d) in slot %d", id, h.Pid(), slot)
	m.publish(EventWorkerSpawn, h.Info())
	go m.doRead(h)
	go m.doWait(h)
	return h, nil
}

func (m *Master) waitReady(ctx context.Context, h *WorkerHandle) error {
	var timeout <-chan time.Time
	if d := m.opts.ReadyTimeout; d > 0 {
		t := m.clock.NewTimer(d)
		defer t.Stop()
		timeout = t.C()
	}
	select {
	case <-h.Ready():
		if e := h.Err(); e != nil {
			return fmt.Errorf("worker %d (slot %d): %w", h.id, h.slot, e)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("worker %d (slot %d): %w", h.id, h.slot, ErrReadyTimeout)
	}
}

func (m *Master) doRead(h *WorkerHandle) {
	defer m.waiter.Done()
	for {
		msg, e := h.ch.Recv()
		if e != nil {
			var de *DecodeError
			if errors.As(e, &de) {
				h.logger.Printf("Dropped malformed message: %v", de)
				continue
			}
			return
		}
		switch msg := msg.(type) {
		case ReadyMessage:
			if h.listening(msg.Addr) {
				h.logger.Printf("Listening on %s", msg.Addr)
				m.publish(EventWorkerListening, h.Info())
				h.settle(nil)
			}
		case EventMessage:
			m.bus.Deliver(h, msg.Event)
		case LogMessage:
			m.workerLog(h, msg)
		case UnknownMessage:
			h.logger.Printf("Unknown message type %q; dropped", msg.Type)
		default:
			h.logger.Printf("Unexpected %s message; dropped", msg.messageType())
		}
	}
}

func (m *Master) workerLog(h *WorkerHandle, msg LogMessage) {
	text := strings.TrimSuffix(fmt.Sprintln(msg.Args...), "\n")
	if msg.Level != "" && msg.Level != "info" {
		text = "[" + msg.Level + "] " + text
	}
	h.logger.Print(text)
}

// doWait reaps the worker.  It is not counted in the master's waiter: a
// process that survives SIGKILL never returns here.
func (m *Master) doWait(h *WorkerHandle) {
	st := h.proc.Wait()
	voluntary := h.disconnect(st)
	h.ch.Close()
	m.bus.RemovePeer(h.id)

	m.lock()
	delete(m.workers, h.id)
	if m.slots[h.slot] == h {
		delete(m.slots, h.slot)
	}
	heal := !voluntary && m.state == MasterRunning
	m.unlock()

	h.settle(ErrExitedBeforeReady)
	if voluntary {
		h.logger.Printf("Stopped: %v", st)
	} else {
		h.logger.Printf("Exited unexpectedly: %v", st)
	}
	m.publish(EventWorkerExit, h.Info())
	close(h.exited)

	if heal {
		m.selfHeal(h.slot)
	}
}

// selfHeal replaces a crashed worker, unless its slot is restarting too
// quickly, in which case it tries again once the limit allows.
func (m *Master) selfHeal(slot int) {
	m.lock()
	if m.state != MasterRunning {
		m.unlock()
		return
	}
	if m.slots[slot] != nil || m.filling[slot] {
		m.unlock()
		return
	}
	wait, e := m.limiter(slot).tooQuickly(m.clock.Now())
	m.unlock()

	if e != nil {
		m.logger.Printf("Slot %d: %v; retrying in %v", slot, e, wait)
		m.retryLater(slot, wait)
		return
	}
	m.logger.Printf("Replacing worker in slot %d", slot)
	_, e = m.spawn(slot)
	if e != nil && !errors.Is(e, ErrNotRunning) && !errors.Is(e, errSlotBusy) {
		m.retryLater(slot, m.opts.RatePeriod)
	}
}

func (m *Master) retryLater(slot int, d time.Duration) {
	t := m.clock.NewTimer(d)
	go func() {
		select {
		case <-t.C():
			m.selfHeal(slot)
		case <-m.stopping:
			t.Stop()
		}
	}()
}

// Start brings up the pool, and returns once every worker is listening.
// If any worker fails to become ready, the pool is torn down and the
// error returned.
func (m *Master) Start(ctx context.Context) error {
	m.lock()
	if m.state != MasterInitializing {
		m.unlock()
		return fmt.Errorf("master is %s", m.state)
	}
	m.started = m.clock.Now()
	m.unlock()

	m.logger.Printf("Starting %d workers", m.size)
	errs := make(chan error, m.size)
	for slot := 0; slot < m.size; slot++ {
		go func(slot int) {
			h, e := m.spawn(slot)
			if e == nil {
				e = m.waitReady(ctx, h)
			}
			errs <- e
		}(slot)
	}

	var first error
	for i := 0; i < m.size; i++ {
		if e := <-errs; e != nil && first == nil {
			first = e
			m.logger.Printf("Startup failed: %v", e)
			go m.Shutdown()
		}
	}
	if first != nil {
		m.Shutdown()
		return first
	}
	m.setState(MasterRunning)
	return nil
}

func (m *Master) terminate(h *WorkerHandle) error {
	return escalate(h, m.clock, m.opts.Timeouts, h.logger)
}

// stop terminates a worker at the master's request, and returns its
// contribution to the exit code.
func (m *Master) stop(h *WorkerHandle) int {
	h.markVoluntary()
	if e := m.terminate(h); e != nil {
		m.logger.Printf("Failed: %v", e)
		// The process is abandoned; release its reader.
		h.ch.Close()
		m.bus.RemovePeer(h.id)
		return 1
	}
	st := h.Status()
	if st.Clean() {
		return 0
	}
	if code := st.ExitCode(); code > 0 {
		return code
	}
	return 1
}

// Shutdown terminates every worker concurrently and waits for them.  It
// returns 0 if every worker exited cleanly, and otherwise the worst exit
// code observed.  A worker that outlives the kill step is abandoned and
// counts as 1.  It may be called more than once.
func (m *Master) Shutdown() int {
	m.drainOnce.Do(m.drain)
	m.lock()
	defer m.unlock()
	return m.exitCode
}

func (m *Master) drain() {
	m.lock()
	m.state = MasterDraining
	close(m.stopping)
	hs := m.handles()
	m.unlock()
	m.logger.Printf("Master draining %d workers", len(hs))
	m.publish(EventMasterState, MasterDraining)

	codes := make([]int, len(hs))
	var wg sync.WaitGroup
	for i, h := range hs {
		wg.Add(1)
		go func(i int, h *WorkerHandle) {
			defer wg.Done()
			codes[i] = m.stop(h)
		}(i, h)
	}
	wg.Wait()
	m.waiter.Wait()

	code := 0
	for _, c := range codes {
		if c > code {
			code = c
		}
	}
	m.lock()
	m.exitCode = code
	m.unlock()
	m.setState(MasterStopped)
}

// RestartWorker replaces one worker: it is terminated, and a new worker is
// started in its slot and waited on.
func (m *Master) RestartWorker(ctx context.Context, id int) error {
	m.restartMx.Lock()
	defer m.restartMx.Unlock()

	m.lock()
	h, ok := m.workers[id]
	running := m.state == MasterRunning
	m.unlock()
	if !running {
		return ErrNotRunning
	}
	if !ok {
		return fmt.Errorf("worker %d: %w", id, ErrNoWorker)
	}
	return m.rotate(ctx, h)
}

// RollingRestart replaces every worker, one slot at a time, so that all
// but one worker are serving throughout.
func (m *Master) RollingRestart(ctx context.Context) error {
	m.restartMx.Lock()
	defer m.restartMx.Unlock()

	m.lock()
	if m.state != MasterRunning {
		m.unlock()
		return ErrNotRunning
	}
	slots := make([]int, 0, len(m.slots))
	for slot := range m.slots {
		slots = append(slots, slot)
	}
	m.unlock()
	sort.Ints(slots)

	m.logger.Printf("Rolling restart of %d workers", len(slots))
	for _, slot := range slots {
		if e := ctx.Err(); e != nil {
			return e
		}
		m.lock()
		h := m.slots[slot]
		m.unlock()
		if h == nil {
			continue
		}
		if e := m.rotate(ctx, h); e != nil {
			m.logger.Printf("Rolling restart stopped at slot %d: %v", slot, e)
			return e
		}
	}
	m.logger.Printf("Rolling restart complete")
	return nil
}

func (m *Master) rotate(ctx context.Context, h *WorkerHandle) error {
	h.logger.Printf("Restarting slot %d", h.slot)
	h.markVoluntary()
	if e := m.terminate(h); e != nil {
		return e
	}
	nh, e := m.refill(ctx, h.slot)
	if e != nil {
		if !errors.Is(e, ErrNotRunning) {
			m.logger.Printf("Slot %d: %v; retrying in %v", h.slot, e, m.opts.RatePeriod)
			m.retryLater(h.slot, m.opts.RatePeriod)
		}
		return e
	}
	return m.waitReady(ctx, nh)
}

// refill starts a worker in the slot.  If crash recovery has already
// refilled it, or is in the middle of doing so, that worker is adopted.
func (m *Master) refill(ctx context.Context, slot int) (*WorkerHandle, error) {
	for {
		m.lock()
		cur := m.slots[slot]
		busy := m.filling[slot]
		wake := m.refilled
		m.unlock()

		if cur != nil {
			return cur, nil
		}
		if !busy {
			h, e := m.spawn(slot)
			if !errors.Is(e, errSlotBusy) {
				return h, e
			}
			continue
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// RequestRestart queues a restart on the control bus.
func (m *Master) RequestRestart(req PendingRestart) {
	m.control.Publish(TopicRestartRequested, req)
}

// RequestShutdown announces on the control bus that the program should
// shut down.
func (m *Master) RequestShutdown(reason string) {
	m.control.Publish(TopicShutdownRequested, reason)
}

func (m *Master) handleRestart(req PendingRestart) {
	if m.State() != MasterRunning {
		m.logger.Printf("Ignoring %s restart (%s): master is not running",
			req.Scope, req.Reason)
		return
	}
	var e error
	switch req.Scope {
	case ScopeWholeSystem:
		m.logger.Printf("Supervisor code changed (%s); "+
			"restart the master to apply", req.Reason)
		return
	case ScopeAllWorkers:
		m.logger.Printf("Restarting all workers: %s", req.Reason)
		e = m.RollingRestart(context.Background())
	case ScopeSingleWorker:
		m.logger.Printf("Restarting worker %d: %s", req.WorkerID, req.Reason)
		e = m.RestartWorker(context.Background(), req.WorkerID)
	}
	if e != nil {
		m.logger.Printf("Restart failed: %v", e)
	}
}
