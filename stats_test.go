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
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStatus(t *testing.T) {
	Convey("Given a running master with two workers", t, func() {
		sp := &fakeSpawner{obey: true}
		m := newTestMaster(2, sp)
		So(m.Start(context.Background()), ShouldBeNil)
		Reset(func() { m.Shutdown() })

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		Reset(cancel)

		Convey("The snapshot describes the pool", func() {
			st := m.Status()
			So(st.State, ShouldEqual, "running")
			So(st.Size, ShouldEqual, 2)
			So(len(st.Workers), ShouldEqual, 2)
			So(st.Started.IsZero(), ShouldBeFalse)
			So(st.Pid, ShouldBeGreaterThan, 0)
		})

		Convey("Concurrent requests each get their own reply", func() {
			var wg sync.WaitGroup
			got := map[string]*Status{}
			var mx sync.Mutex
			for _, id := range []string{"req-a", "req-b"} {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					st, e := requestStatus(ctx, m.Bus(), id)
					if e == nil {
						mx.Lock()
						got[id] = st
						mx.Unlock()
					}
				}(id)
			}
			wg.Wait()
			So(len(got), ShouldEqual, 2)
			So(got["req-a"].Request, ShouldEqual, "req-a")
			So(got["req-b"].Request, ShouldEqual, "req-b")
			So(m.Bus().Local().Len("req-a"), ShouldEqual, 0)
		})

		Convey("A worker can ask over IPC", func() {
			st, e := RequestStatus(ctx, sp.worker(1).Bus())
			So(e, ShouldBeNil)
			So(st.Size, ShouldEqual, 2)
			So(st.State, ShouldEqual, "running")
			So(len(st.Workers), ShouldEqual, 2)
			So(listening(st.Workers), ShouldEqual, 2)
		})

		Convey("Requests without an id are ignored", func() {
			m.Bus().Emit(StatusRequest)
			m.Bus().Emit(StatusRequest, 3)
			So(m.State(), ShouldEqual, MasterRunning)
		})

		Convey("An unanswered request gives up with the context", func() {
			bus := NewClusterBus(NewLocalBus(discard), false, discard)
			short, stop := context.WithTimeout(ctx, 20*time.Millisecond)
			defer stop()
			_, e := RequestStatus(short, bus)
			So(e, ShouldEqual, context.DeadlineExceeded)
		})
	})
}

func TestDecodeStatus(t *testing.T) {
	Convey("Status decodes from its generic form", t, func() {
		generic := map[string]interface{}{
			"request": "x",
			"state":   "running",
			"size":    2.0,
			"workers": []interface{}{
				map[string]interface{}{"id": 1.0, "state": "listening"},
			},
		}
		st, e := decodeStatus(generic)
		So(e, ShouldBeNil)
		So(st.Request, ShouldEqual, "x")
		So(st.Size, ShouldEqual, 2)
		So(st.Workers[0].State, ShouldEqual, StateListening)

		_, e = decodeStatus("nonsense")
		So(e, ShouldNotBeNil)
	})
}
