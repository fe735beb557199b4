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


package ui

import (
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gdamore/prefork"
	"github.com/gdamore/prefork/rest"
)

func TestKeyMarkup(t *testing.T) {
	Convey("Bracketed keys are highlighted", t, func() {
		So(keyMarkup([]string{"[Q] Quit", "[H] Help"}),
			ShouldEqual, "[%AQ%N] Quit [%AH%N] Help")
	})
	Convey("Percent signs are escaped", t, func() {
		So(keyMarkup([]string{"100% [X]"}), ShouldEqual, "100%% [%AX%N]")
		So(escapePercent("50%"), ShouldEqual, "50%%")
	})
}

func TestFieldRender(t *testing.T) {
	Convey("Fields are padded to width", t, func() {
		f := &field{label: "User: ", value: []rune("bob")}
		So(f.render(true, 6), ShouldEqual, "User: bob_  ")
		So(f.render(false, 6), ShouldEqual, "User: bob   ")
	})
	Convey("Secret fields are masked", t, func() {
		f := &field{label: "", value: []rune("pw"), secret: true}
		So(f.render(false, 4), ShouldEqual, "**  ")
	})
	Convey("Long fields keep their tail", t, func() {
		f := &field{value: []rune("abcdefgh")}
		So(f.render(false, 4), ShouldEqual, "<fgh")
		So(string(f.value), ShouldEqual, "abcdefgh")
	})
}

func TestNeedsAuth(t *testing.T) {
	Convey("Only a 401 asks for credentials", t, func() {
		So(needsAuth(&rest.Error{Code: 401, Message: "Unauthorized"}), ShouldBeTrue)
		So(needsAuth(fmt.Errorf("fetch: %w",
			&rest.Error{Code: 401, Message: "Unauthorized"})), ShouldBeTrue)
		So(needsAuth(&rest.Error{Code: 504, Message: "timeout"}), ShouldBeFalse)
		So(needsAuth(errors.New("refused")), ShouldBeFalse)
	})
}

func TestWorkerHealth(t *testing.T) {
	Convey("Worker lines are colored by health", t, func() {
		w := &prefork.WorkerInfo{State: prefork.StateListening}
		So(workerHealth(w), ShouldEqual, HealthGood)
		w.State = prefork.StateStarting
		So(workerHealth(w), ShouldEqual, HealthWarn)
		w.State = prefork.StateDisconnected
		So(workerHealth(w), ShouldEqual, HealthNormal)
		w.Exit = &prefork.ExitStatus{Code: 3}
		So(workerHealth(w), ShouldEqual, HealthError)
	})
}

func TestInfoLines(t *testing.T) {
	Convey("Master details include host stats", t, func() {
		now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
		st := &prefork.Status{
			Pid:     10,
			State:   "running",
			Size:    2,
			Started: now.Add(-90 * time.Second),
			Host: prefork.HostStats{
				LoadAvg:  [3]float64{0.5, 0.25, 1},
				MemTotal: 2 << 30,
				MemFree:  1 << 30,
				CPUs:     []float64{0.5, 1},
			},
		}
		lines := masterLines(st, now)
		So(lines, ShouldContain, "  Master pid: 10")
		So(lines, ShouldContain, "      Uptime: 0:01:30")
		So(lines, ShouldContain, "        Load: 0.50 0.25 1.00")
		So(lines, ShouldContain, "      Memory: 1.0GiB free of 2.0GiB")
		So(lines, ShouldContain, "        CPUs:  50% 100%")
	})
	Convey("Worker details report the exit", t, func() {
		now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
		w := &prefork.WorkerInfo{
			ID:      4,
			Slot:    1,
			Started: now.Add(-5 * time.Second),
			Exit:    &prefork.ExitStatus{Code: 2},
		}
		lines := workerLines(w, now)
		So(lines, ShouldContain, "      Worker: 4")
		So(lines, ShouldContain, "      Uptime: 0:00:05")
		So(lines, ShouldContain, "        Exit: exit code 2")
	})
}
