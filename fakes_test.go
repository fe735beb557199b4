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
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := string(p)
	s = strings.Trim(s, "\n")
	tl.t.Log(s)
	return len(p), nil
}

var discard = log.New(io.Discard, "", 0)

// fakeClock only moves when Advance is called.
type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
	cv     *sync.Cond
	mx     sync.Mutex
}

type fakeTimer struct {
	c     chan time.Time
	at    time.Time
	clock *fakeClock
}

func newFakeClock() *fakeClock {
	c := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.cv = sync.NewCond(&c.mx)
	return c
}

func (c *fakeClock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mx.Lock()
	defer c.mx.Unlock()
	t := &fakeTimer{c: make(chan time.Time, 1), at: c.now.Add(d), clock: c}
	c.timers = append(c.timers, t)
	c.cv.Broadcast()
	return t
}

func (c *fakeClock) remove(t *fakeTimer) bool {
	for i, x := range c.timers {
		if x == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.c
}

func (t *fakeTimer) Stop() bool {
	t.clock.mx.Lock()
	defer t.clock.mx.Unlock()
	return t.clock.remove(t)
}

// Advance moves time forward, firing every timer that comes due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.now = c.now.Add(d)
	pending := c.timers[:0:0]
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.c <- c.now
		} else {
			pending = append(pending, t)
		}
	}
	c.timers = pending
}

// BlockUntil waits until at least n timers are pending.
func (c *fakeClock) BlockUntil(n int) {
	c.mx.Lock()
	defer c.mx.Unlock()
	for len(c.timers) < n {
		c.cv.Wait()
	}
}

// fakeProcess stands in for a worker process.  It exits when its worker
// calls the exit function, on SIGKILL, and on SIGINT or SIGTERM if obey
// is set.  A stubborn process ignores all of these until released.
type fakeProcess struct {
	pid      int
	obey     bool
	stubborn bool
	failCode int
	signals  []os.Signal
	status   ExitStatus
	onExit   func()
	done     chan struct{}
	once     sync.Once
	mx       sync.Mutex
}

func (p *fakeProcess) Pid() int {
	return p.pid
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return os.ErrProcessDone
	default:
	}
	p.mx.Lock()
	p.signals = append(p.signals, sig)
	obey := p.obey
	stubborn := p.stubborn
	p.mx.Unlock()
	if stubborn {
		return nil
	}
	if sig == syscall.SIGKILL {
		p.exit(ExitStatus{Code: -1, Signal: "killed", Signo: int(syscall.SIGKILL)})
	} else if obey {
		p.exit(ExitStatus{})
	}
	return nil
}

func (p *fakeProcess) exit(st ExitStatus) {
	p.mx.Lock()
	stubborn := p.stubborn
	p.mx.Unlock()
	if stubborn {
		return
	}
	p.once.Do(func() {
		p.mx.Lock()
		if p.failCode != 0 {
			st.Code = p.failCode
		}
		p.status = st
		p.mx.Unlock()
		if p.onExit != nil {
			p.onExit()
		}
		close(p.done)
	})
}

func (p *fakeProcess) Wait() ExitStatus {
	<-p.done
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.status
}

func (p *fakeProcess) Signals() []os.Signal {
	p.mx.Lock()
	defer p.mx.Unlock()
	return append([]os.Signal{}, p.signals...)
}

func (p *fakeProcess) setStubborn() {
	p.mx.Lock()
	p.stubborn = true
	p.mx.Unlock()
}

// release lets a stubborn process die.
func (p *fakeProcess) release() {
	p.mx.Lock()
	p.stubborn = false
	p.mx.Unlock()
	p.exit(ExitStatus{Code: -1, Signal: "killed", Signo: int(syscall.SIGKILL)})
}

func (p *fakeProcess) setFailCode(code int) {
	p.mx.Lock()
	p.failCode = code
	p.mx.Unlock()
}

// fakeSpawner runs each worker in process, over a net.Pipe, using the
// real Worker bootstrap.  A silent worker never runs, so it never becomes
// ready.  The next failSpawn calls to Spawn fail.
type fakeSpawner struct {
	obey      bool
	failReady bool
	silent    bool
	failSpawn int
	procs     []*fakeProcess
	workers   []*Worker
	mx        sync.Mutex
}

func idle(ctx context.Context, l net.Listener, bus *ClusterBus) error {
	<-ctx.Done()
	return nil
}

func (s *fakeSpawner) Spawn(id, slot int, logger *log.Logger) (Process, io.ReadWriteCloser, error) {
	s.mx.Lock()
	if s.failSpawn > 0 {
		s.failSpawn--
		s.mx.Unlock()
		return nil, nil, errors.New("fork: resource temporarily unavailable")
	}
	s.mx.Unlock()

	mine, theirs := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	p := &fakeProcess{
		pid:  10000 + id,
		obey: s.obey,
		done: make(chan struct{}),
	}
	p.onExit = func() {
		cancel()
		theirs.Close()
	}

	w := NewWorker(NewChannel(theirs), id, slot)
	w.stderr = io.Discard
	w.SetListenFunc(func(network, addr string) (net.Listener, error) {
		return net.Listen("tcp", "127.0.0.1:0")
	})
	w.SetExitFunc(func(code int) {
		p.exit(ExitStatus{Code: code})
	})

	s.mx.Lock()
	s.procs = append(s.procs, p)
	s.workers = append(s.workers, w)
	fail := s.failReady
	silent := s.silent
	s.mx.Unlock()

	switch {
	case fail:
		go p.exit(ExitStatus{Code: 2})
	case silent:
		go io.Copy(io.Discard, theirs)
	default:
		go w.Run(ctx, ApplicationFunc(idle))
	}
	return p, mine, nil
}

func (s *fakeSpawner) setSilent(silent bool) {
	s.mx.Lock()
	s.silent = silent
	s.mx.Unlock()
}

func (s *fakeSpawner) failNext(n int) {
	s.mx.Lock()
	s.failSpawn = n
	s.mx.Unlock()
}

func (s *fakeSpawner) count() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.procs[i]
}

func (s *fakeSpawner) worker(i int) *Worker {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.workers[i]
}

// eventually polls cond for up to five seconds.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newTestMaster(workers int, sp *fakeSpawner) *Master {
	m, e := NewMaster(Options{
		Workers: workers,
		Spawner: sp,
		Stderr:  io.Discard,
		Timeouts: Timeouts{
			Interrupt: time.Second,
			Terminate: time.Second,
			Kill:      time.Second,
		},
	})
	if e != nil {
		panic(e)
	}
	return m
}

func listening(infos []WorkerInfo) int {
	n := 0
	for _, info := range infos {
		if info.State == StateListening {
			n++
		}
	}
	return n
}
