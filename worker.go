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
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/net/netutil"
)

// Application is the code a worker hosts.  Serve should accept
// connections on l until ctx is done.
type Application interface {
	Serve(ctx context.Context, l net.Listener, bus *ClusterBus) error
}

// ApplicationFunc adapts a function to Application.
type ApplicationFunc func(ctx context.Context, l net.Listener, bus *ClusterBus) error

func (f ApplicationFunc) Serve(ctx context.Context, l net.Listener, bus *ClusterBus) error {
	return f(ctx, l, bus)
}

// masterPeer is a worker's view of its master.
type masterPeer struct {
	ch *Channel
}

func (p masterPeer) ID() int {
	return 0
}

func (p masterPeer) Send(m Message) error {
	return p.ch.Send(m)
}

// Worker is the bootstrap for a worker process.
type Worker struct {
	id       int
	slot     int
	ch       *Channel
	master   masterPeer
	bus      *ClusterBus
	logger   *log.Logger
	stderr   io.Writer
	network  string
	addr     string
	maxConns int
	listen   func(network, addr string) (net.Listener, error)
	exit     func(code int)
	signals  bool
	ready    sync.Once
}

// IsWorker reports whether this process was started by a master.
func IsWorker() bool {
	return os.Getenv(EnvWorkerID) != ""
}

// WorkerFromEnv sets up the worker for a process started by ExecSpawner.
func WorkerFromEnv() (*Worker, error) {
	if !IsWorker() {
		return nil, ErrNotWorker
	}
	id, e := strconv.Atoi(os.Getenv(EnvWorkerID))
	if e != nil {
		return nil, fmt.Errorf("%s: %w", EnvWorkerID, e)
	}
	slot, e := strconv.Atoi(os.Getenv(EnvWorkerSlot))
	if e != nil {
		return nil, fmt.Errorf("%s: %w", EnvWorkerSlot, e)
	}
	f := os.NewFile(ipcFd, "ipc")
	conn, e := net.FileConn(f)
	f.Close()
	if e != nil {
		return nil, fmt.Errorf("ipc channel: %w", e)
	}
	w := NewWorker(NewChannel(conn), id, slot)
	w.signals = true
	return w, nil
}

// NewWorker returns a worker speaking to its master over ch.  By default
// it listens on TCP port 8080 of all interfaces, and exits the process
// when told to shut down.
func NewWorker(ch *Channel, id, slot int) *Worker {
	w := &Worker{
		id:      id,
		slot:    slot,
		ch:      ch,
		master:  masterPeer{ch},
		stderr:  os.Stderr,
		network: "tcp",
		addr:    ":8080",
		listen:  ListenReusePort,
		exit:    os.Exit,
	}
	w.logger = log.New(&ipcLogWriter{w}, "", 0)
	w.bus = NewClusterBus(NewLocalBus(w.logger), false, w.logger)
	w.bus.AddPeer(w.master)
	return w
}

func (w *Worker) ID() int {
	return w.id
}

func (w *Worker) Slot() int {
	return w.slot
}

func (w *Worker) Bus() *ClusterBus {
	return w.bus
}

// Logger returns a logger whose output is recorded by the master.
func (w *Worker) Logger() *log.Logger {
	return w.logger
}

func (w *Worker) SetListenAddr(network, addr string) {
	w.network = network
	w.addr = addr
}

// SetMaxConns limits the connections served at once.  Zero is unlimited.
func (w *Worker) SetMaxConns(n int) {
	w.maxConns = n
}

func (w *Worker) SetListenFunc(fn func(network, addr string) (net.Listener, error)) {
	w.listen = fn
}

func (w *Worker) SetExitFunc(fn func(code int)) {
	w.exit = fn
}

type ipcLogWriter struct {
	w *Worker
}

func (lw *ipcLogWriter) Write(b []byte) (int, error) {
	text := strings.TrimRight(string(b), "\n")
	msg := LogMessage{Level: "info", Args: []interface{}{text}}
	if e := lw.w.ch.Send(msg); e != nil {
		lw.w.stderr.Write(b)
	}
	return len(b), nil
}

func (w *Worker) doRead() {
	for {
		msg, e := w.ch.Recv()
		if e != nil {
			var de *DecodeError
			if errors.As(e, &de) {
				w.logger.Printf("Dropped malformed message: %v", de)
				continue
			}
			fmt.Fprintf(w.stderr, "Lost connection to master: %v\n", e)
			return
		}
		switch msg := msg.(type) {
		case ShutdownMessage:
			w.exit(0)
			return
		case EventMessage:
			w.bus.Deliver(w.master, msg.Event)
		case LogMessage:
			fmt.Fprintln(w.stderr, msg.Args...)
		case UnknownMessage:
			w.logger.Printf("Unknown message type %q; dropped", msg.Type)
		default:
			w.logger.Printf("Unexpected %s message; dropped", msg.messageType())
		}
	}
}

// Run binds the listener, signals readiness to the master, and serves the
// application until it returns.
func (w *Worker) Run(ctx context.Context, app Application) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go w.doRead()

	if w.signals {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)
		go func() {
			select {
			case sig := <-sigs:
				w.logger.Printf("Received %v, exiting", sig)
				w.exit(0)
			case <-ctx.Done():
			}
		}()
	}

	l, e := w.listen(w.network, w.addr)
	if e != nil {
		return fmt.Errorf("listen %s: %w", w.addr, e)
	}
	if w.maxConns > 0 {
		l = netutil.LimitListener(l, w.maxConns)
	}
	defer l.Close()

	w.ready.Do(func() {
		msg := ReadyMessage{Pid: os.Getpid(), Addr: l.Addr().String()}
		if e := w.ch.Send(msg); e != nil {
			fmt.Fprintf(w.stderr, "Cannot signal readiness: %v\n", e)
		}
	})
	return app.Serve(ctx, l, w.bus)
}
