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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type syncBuffer struct {
	buf bytes.Buffer
	mx  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.String()
}

func TestWorkerFromEnv(t *testing.T) {
	Convey("Outside a master there is no worker", t, func() {
		t.Setenv(EnvWorkerID, "")
		So(IsWorker(), ShouldBeFalse)
		_, e := WorkerFromEnv()
		So(errors.Is(e, ErrNotWorker), ShouldBeTrue)

		t.Setenv(EnvWorkerID, "x")
		So(IsWorker(), ShouldBeTrue)
		_, e = WorkerFromEnv()
		So(e, ShouldNotBeNil)
	})
}

func TestWorkerRun(t *testing.T) {
	Convey("Given a worker and a stand-in master", t, func() {
		mine, theirs := net.Pipe()
		master := NewChannel(mine)
		w := NewWorker(NewChannel(theirs), 4, 1)
		stderr := &syncBuffer{}
		w.stderr = stderr
		exits := make(chan int, 2)
		w.SetExitFunc(func(code int) { exits <- code })
		w.SetListenAddr("tcp", "127.0.0.1:0")
		w.SetListenFunc(net.Listen)
		w.SetMaxConns(2)

		ctx, cancel := context.WithCancel(context.Background())
		served := make(chan net.Listener, 1)
		result := make(chan error, 1)
		go func() {
			result <- w.Run(ctx, ApplicationFunc(func(ctx context.Context, l net.Listener, bus *ClusterBus) error {
				served <- l
				<-ctx.Done()
				return nil
			}))
		}()
		Reset(func() {
			cancel()
			master.Close()
			<-result
		})

		So(w.ID(), ShouldEqual, 4)
		So(w.Slot(), ShouldEqual, 1)

		msg, e := master.Recv()
		So(e, ShouldBeNil)
		ready, ok := msg.(ReadyMessage)
		So(ok, ShouldBeTrue)
		l := <-served
		So(ready.Addr, ShouldEqual, l.Addr().String())
		So(ready.Pid, ShouldBeGreaterThan, 0)

		Convey("Log output goes to the master", func() {
			go w.Logger().Printf("hello %d", 5)
			msg, e := master.Recv()
			So(e, ShouldBeNil)
			So(msg, ShouldResemble, LogMessage{Level: "info", Args: []interface{}{"hello 5"}})
		})

		Convey("Events from the master reach the worker's bus", func() {
			got := make(chan Meta, 1)
			w.Bus().On("news", func(meta Meta, data ...interface{}) {
				got <- meta
			})
			ev, _ := NewEvent("news", KindEvent, Meta{"id": 2.0}, "x")
			So(master.Send(EventMessage{Event: ev}), ShouldBeNil)
			meta := <-got
			id, _ := meta.ID()
			So(id, ShouldEqual, 2)
		})

		Convey("Worker events go to the master", func() {
			go w.Bus().Emit("up", 1)
			msg, e := master.Recv()
			So(e, ShouldBeNil)
			em, ok := msg.(EventMessage)
			So(ok, ShouldBeTrue)
			So(em.Event.Name(), ShouldEqual, "up")
		})

		Convey("Unknown messages are logged and dropped", func() {
			msg := UnknownMessage{Type: "reload", Raw: json.RawMessage(`{"type":"reload"}`)}
			go master.Send(msg)
			got, e := master.Recv()
			So(e, ShouldBeNil)
			lm, ok := got.(LogMessage)
			So(ok, ShouldBeTrue)
			So(lm.Args, ShouldResemble, []interface{}{`Unknown message type "reload"; dropped`})

			Convey("And the channel keeps working", func() {
				So(master.Send(ShutdownMessage{}), ShouldBeNil)
				So(<-exits, ShouldEqual, 0)
			})
		})

		Convey("A shutdown message exits cleanly", func() {
			So(master.Send(ShutdownMessage{}), ShouldBeNil)
			So(<-exits, ShouldEqual, 0)
		})

		Convey("Losing the master is reported", func() {
			master.Close()
			So(eventually(func() bool {
				return strings.Contains(stderr.String(), "Lost connection")
			}), ShouldBeTrue)

			Convey("And logging falls back to stderr", func() {
				w.Logger().Printf("orphaned")
				So(stderr.String(), ShouldContainSubstring, "orphaned")
			})
		})

		Convey("Connections beyond the limit wait", func() {
			c1, e := net.Dial("tcp", l.Addr().String())
			So(e, ShouldBeNil)
			defer c1.Close()
			a1, e := l.Accept()
			So(e, ShouldBeNil)
			defer a1.Close()
			c2, e := net.Dial("tcp", l.Addr().String())
			So(e, ShouldBeNil)
			defer c2.Close()
			a2, e := l.Accept()
			So(e, ShouldBeNil)
			defer a2.Close()

			c3, e := net.Dial("tcp", l.Addr().String())
			So(e, ShouldBeNil)
			defer c3.Close()
			accepted := make(chan net.Conn, 1)
			go func() {
				if c, e := l.Accept(); e == nil {
					accepted <- c
				}
			}()
			var early net.Conn
			select {
			case early = <-accepted:
			case <-time.After(50 * time.Millisecond):
			}
			So(early, ShouldBeNil)
			a1.Close()
			a3 := <-accepted
			So(a3, ShouldNotBeNil)
			a3.Close()
		})
	})
}
