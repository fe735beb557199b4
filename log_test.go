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
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	Convey("Given a small log", t, func() {
		l := NewLog(3)
		recs, id := l.GetRecords(0)
		So(len(recs), ShouldEqual, 0)

		Convey("Lines are recorded with their source", func() {
			fmt.Fprintln(l.Writer("worker-1"), "one\ntwo")
			recs, id2 := l.GetRecords(id)
			So(id2, ShouldNotEqual, id)
			So(len(recs), ShouldEqual, 2)
			So(recs[0].Source, ShouldEqual, "worker-1")
			So(recs[0].Text, ShouldEqual, "one")
			So(recs[1].Text, ShouldEqual, "two")
			So(recs[1].Id, ShouldEqual, recs[0].Id+1)

			Convey("An unchanged log returns nothing", func() {
				recs, id3 := l.GetRecords(id2)
				So(recs, ShouldBeNil)
				So(id3, ShouldEqual, id2)
			})
		})

		Convey("Old records fall off the end", func() {
			for i := 0; i < 5; i++ {
				fmt.Fprintf(l, "line %d\n", i)
			}
			recs, _ := l.GetRecords(0)
			So(len(recs), ShouldEqual, 3)
			So(recs[0].Text, ShouldEqual, "line 2")
			So(recs[2].Text, ShouldEqual, "line 4")
			So(recs[2].Source, ShouldEqual, "")
		})

		Convey("Clear empties it and changes the id", func() {
			fmt.Fprintln(l, "x")
			_, before := l.GetRecords(0)
			l.Clear()
			recs, after := l.GetRecords(0)
			So(len(recs), ShouldEqual, 0)
			So(after, ShouldNotEqual, before)
		})

		Convey("Watch wakes on change", func() {
			go func() {
				time.Sleep(20 * time.Millisecond)
				fmt.Fprintln(l, "wake")
			}()
			So(l.Watch(id, 5*time.Second), ShouldNotEqual, id)
		})

		Convey("WatchContext returns when cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
			start := time.Now()
			So(l.WatchContext(ctx, id, time.Minute), ShouldEqual, id)
			So(time.Since(start), ShouldBeLessThan, 30*time.Second)
		})

		Convey("Watch gives up after the expiry", func() {
			So(l.Watch(id, 10*time.Millisecond), ShouldEqual, id)
			So(l.Watch(id, 0), ShouldEqual, id)
		})
	})
}

func TestMultiLogger(t *testing.T) {
	Convey("A MultiLogger fans out to every logger", t, func() {
		var a, b strings.Builder
		la := log.New(&a, "a ", 0)
		lb := log.New(&b, "b ", 0)
		ml := NewMultiLogger(la, lb, la)
		So(ml.Len(), ShouldEqual, 2)
		ml.Logger().Printf("one\n\ntwo")
		So(a.String(), ShouldEqual, "a one\na two\n")
		So(b.String(), ShouldEqual, "b one\nb two\n")

		ml.DelLogger(lb)
		So(ml.Len(), ShouldEqual, 1)
		ml.Logger().Print("three")
		So(b.String(), ShouldEqual, "b one\nb two\n")
		So(a.String(), ShouldEndWith, "a three\n")

		ml.AddLogger(log.New(&testLog{t}, "", 0))
		ml.Logger().Print("to the test log")
	})
}

func TestRateLimiter(t *testing.T) {
	Convey("Given a limit of three starts a minute", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		r := newRateLimiter(3, time.Minute)

		for i := 0; i < 3; i++ {
			_, e := r.tooQuickly(now)
			So(e, ShouldBeNil)
			r.record(now)
			now = now.Add(time.Second)
		}

		Convey("A fourth start within the minute is refused", func() {
			wait, e := r.tooQuickly(now)
			So(e, ShouldEqual, ErrRateLimited)
			So(wait, ShouldEqual, 57*time.Second)

			Convey("Until the oldest start has aged out, and the next", func() {
				now = now.Add(wait)
				_, e := r.tooQuickly(now)
				So(e, ShouldEqual, ErrRateLimited)
				now = now.Add(time.Second)
				_, e = r.tooQuickly(now)
				So(e, ShouldBeNil)
			})
		})

		Convey("Starts spread over the period are allowed", func() {
			now = now.Add(time.Minute)
			_, e := r.tooQuickly(now)
			So(e, ShouldBeNil)
		})
	})

	Convey("A zero limit never refuses", t, func() {
		r := newRateLimiter(0, time.Minute)
		now := time.Now()
		for i := 0; i < 100; i++ {
			r.record(now)
		}
		_, e := r.tooQuickly(now)
		So(e, ShouldBeNil)
	})
}
