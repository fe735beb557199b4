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


package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gdamore/prefork"
)

var discard = log.New(io.Discard, "", 0)

func newBus() *prefork.ClusterBus {
	return prefork.NewClusterBus(prefork.NewLocalBus(discard), true, discard)
}

func TestApp(t *testing.T) {
	Convey("Given a worker application", t, func() {
		bus := newBus()
		a := newApp(4, 1, discard)
		srv := httptest.NewServer(a.router(bus))
		Reset(srv.Close)

		Convey("It counts hits", func() {
			for i := 1; i <= 2; i++ {
				res, e := http.Get(srv.URL + "/")
				So(e, ShouldBeNil)
				h := hello{}
				So(json.NewDecoder(res.Body).Decode(&h), ShouldBeNil)
				res.Body.Close()
				So(h.Worker, ShouldEqual, 4)
				So(h.Slot, ShouldEqual, 1)
				So(h.Hits, ShouldEqual, i)
			}
		})

		Convey("It relays master status", func() {
			bus.On(prefork.StatusRequest, func(meta prefork.Meta, data ...interface{}) {
				id := data[0].(string)
				bus.Emit(id, prefork.Status{Request: id, Pid: 12, State: "running"})
			})
			res, e := http.Get(srv.URL + "/status")
			So(e, ShouldBeNil)
			defer res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusOK)
			st := prefork.Status{}
			So(json.NewDecoder(res.Body).Decode(&st), ShouldBeNil)
			So(st.Pid, ShouldEqual, 12)
		})

		Convey("It emits broadcasts", func() {
			var got []interface{}
			var mx sync.Mutex
			bus.On(BroadcastEvent, func(meta prefork.Meta, data ...interface{}) {
				mx.Lock()
				got = append(got, data...)
				mx.Unlock()
			})
			res, e := http.Post(srv.URL+"/broadcast", "text/plain",
				strings.NewReader("hi all"))
			So(e, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusAccepted)
			mx.Lock()
			defer mx.Unlock()
			So(got, ShouldResemble, []interface{}{"hi all"})
		})
	})
}

func TestBroadcastReceipt(t *testing.T) {
	Convey("Broadcasts name their origin", t, func() {
		buf := &bytes.Buffer{}
		a := newApp(1, 0, log.New(buf, "", 0))
		a.onBroadcast(prefork.Meta{"id": 3}, "hello")
		a.onBroadcast(prefork.Meta{}, "from master")
		So(a.received.Load(), ShouldEqual, 2)
		So(buf.String(), ShouldContainSubstring, "Broadcast from worker 3: [hello]")
		So(buf.String(), ShouldContainSubstring, "Broadcast from master: [from master]")
	})
}

func TestServe(t *testing.T) {
	Convey("Serve stops with its context", t, func() {
		l, e := net.Listen("tcp", "127.0.0.1:0")
		So(e, ShouldBeNil)
		bus := newBus()
		a := newApp(1, 0, discard)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- a.Serve(ctx, l, bus) }()

		res, e := http.Get("http://" + l.Addr().String() + "/")
		So(e, ShouldBeNil)
		res.Body.Close()
		So(bus.Local().Len(BroadcastEvent), ShouldEqual, 1)

		cancel()
		select {
		case e := <-done:
			So(e, ShouldBeNil)
		case <-time.After(5 * time.Second):
			So("Serve did not return", ShouldBeEmpty)
		}
		So(bus.Local().Len(BroadcastEvent), ShouldEqual, 0)
	})
}

func TestWorkerArgs(t *testing.T) {
	Convey("Workers get the flags they share with the master", t, func() {
		root := newRootCmd()
		run, _, e := root.Find([]string{"run"})
		So(e, ShouldBeNil)
		So(run.ParseFlags([]string{"-n", "3", "--listen", ":9000"}), ShouldBeNil)

		d := &daemon{}
		So(d.workerArgs(run.Flags()), ShouldResemble,
			[]string{"worker", "--listen", ":9000"})

		d.path = "/etc/prefork.yaml"
		So(d.workerArgs(run.Flags()), ShouldResemble,
			[]string{"worker", "--config", "/etc/prefork.yaml", "--listen", ":9000"})
	})
}

func TestLoad(t *testing.T) {
	Convey("Flags override the configuration", t, func() {
		chdir(t, t.TempDir())
		root := newRootCmd()
		run, _, e := root.Find([]string{"run"})
		So(e, ShouldBeNil)
		So(run.ParseFlags([]string{"-n", "3", "--control-listen", "127.0.0.1:9999", "--max-conns", "7"}), ShouldBeNil)

		d := &daemon{}
		cfg, e := d.load(run)
		So(e, ShouldBeNil)
		So(cfg.Workers, ShouldEqual, 3)
		So(cfg.Control.Listen, ShouldEqual, "127.0.0.1:9999")
		So(cfg.MaxConns, ShouldEqual, 7)
		So(cfg.Listen, ShouldEqual, ":8080")
	})
}

func TestExitCode(t *testing.T) {
	Convey("Exit codes describe themselves", t, func() {
		So(exitCode(3).Error(), ShouldEqual, "exit status 3")
	})
}
