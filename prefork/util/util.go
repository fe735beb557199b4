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


// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/gdamore/prefork"
)

// Status is the one word summary shown for a worker.
func Status(w *prefork.WorkerInfo) string {
	if w.Exit != nil {
		if w.Exit.Clean() {
			return "exited"
		}
		return "failed"
	}
	return w.State.String()
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// Uptime is the time since the worker started, to the second.
func Uptime(w *prefork.WorkerInfo, now time.Time) time.Duration {
	if w.Started.IsZero() {
		return 0
	}
	d := now.Sub(w.Started)
	if d < 0 {
		return 0
	}
	return d - d%time.Second
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

type sorted []prefork.WorkerInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if a.Slot != b.Slot {
		return a.Slot < b.Slot
	}
	// A retiring worker and its replacement can share a slot for a
	// moment; show the newer one last.
	return a.ID < b.ID
}

func SortWorkers(items []prefork.WorkerInfo) {
	sort.Sort(sorted(items))
}
