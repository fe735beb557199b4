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


package util

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gdamore/prefork"
)

func TestFormatDuration(t *testing.T) {
	Convey("Durations format as h:mm:ss", t, func() {
		So(FormatDuration(0), ShouldEqual, "0:00:00")
		So(FormatDuration(61*time.Second), ShouldEqual, "0:01:01")
		So(FormatDuration(26*time.Hour+3*time.Minute+4*time.Second),
			ShouldEqual, "26:03:04")
	})
}

func TestFormatBytes(t *testing.T) {
	Convey("Byte counts use binary units", t, func() {
		So(FormatBytes(512), ShouldEqual, "512B")
		So(FormatBytes(1536), ShouldEqual, "1.5KiB")
		So(FormatBytes(3<<30), ShouldEqual, "3.0GiB")
	})
}

func TestStatus(t *testing.T) {
	Convey("Worker status words", t, func() {
		w := &prefork.WorkerInfo{State: prefork.StateListening}
		So(Status(w), ShouldEqual, "listening")
		w.State = prefork.StateDisconnected
		w.Exit = &prefork.ExitStatus{}
		So(Status(w), ShouldEqual, "exited")
		w.Exit = &prefork.ExitStatus{Code: -1, Signal: "killed", Signo: 9}
		So(Status(w), ShouldEqual, "failed")
	})
}

func TestUptime(t *testing.T) {
	Convey("Uptime truncates to seconds", t, func() {
		now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
		w := &prefork.WorkerInfo{Started: now.Add(-3500 * time.Millisecond)}
		So(Uptime(w, now), ShouldEqual, 3*time.Second)
		w.Started = time.Time{}
		So(Uptime(w, now), ShouldEqual, time.Duration(0))
	})
}

func TestSortWorkers(t *testing.T) {
	Convey("Workers sort by slot then ID", t, func() {
		items := []prefork.WorkerInfo{
			{ID: 7, Slot: 1},
			{ID: 2, Slot: 0},
			{ID: 5, Slot: 1},
		}
		SortWorkers(items)
		So(items[0].ID, ShouldEqual, 2)
		So(items[1].ID, ShouldEqual, 5)
		So(items[2].ID, ShouldEqual, 7)
	})
}
