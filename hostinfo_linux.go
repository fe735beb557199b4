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

//go:build linux

package prefork

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

type cpuTimes struct {
	busy  uint64
	total uint64
}

// cpuSampler computes per-core utilisation as the change in /proc/stat
// counters between successive samples.  The first sample reports the
// average since boot.
type cpuSampler struct {
	prev []cpuTimes
	mx   sync.Mutex
}

func readCPUTimes(path string) ([]cpuTimes, error) {
	f, e := os.Open(path)
	if e != nil {
		return nil, e
	}
	defer f.Close()

	var cpus []cpuTimes
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// Per-core lines are "cpuN"; the aggregate "cpu" line is skipped.
		if len(fields) < 5 || !strings.HasPrefix(fields[0], "cpu") || fields[0] == "cpu" {
			continue
		}
		var t cpuTimes
		for i, s := range fields[1:] {
			v, e := strconv.ParseUint(s, 10, 64)
			if e != nil {
				return nil, fmt.Errorf("%s: bad counter %q", path, s)
			}
			t.total += v
			// idle and iowait
			if i != 3 && i != 4 {
				t.busy += v
			}
		}
		cpus = append(cpus, t)
	}
	return cpus, scanner.Err()
}

func utilisation(prev, cur []cpuTimes) []float64 {
	rv := make([]float64, len(cur))
	for i, c := range cur {
		busy, total := c.busy, c.total
		if i < len(prev) && c.total >= prev[i].total && c.busy >= prev[i].busy {
			busy -= prev[i].busy
			total -= prev[i].total
		}
		if total > 0 {
			rv[i] = float64(busy) / float64(total)
		}
	}
	return rv
}

func (s *cpuSampler) sample() (HostStats, error) {
	var hs HostStats
	var info unix.Sysinfo_t
	if e := unix.Sysinfo(&info); e != nil {
		return hs, fmt.Errorf("sysinfo: %w", e)
	}
	for i := range hs.LoadAvg {
		hs.LoadAvg[i] = float64(info.Loads[i]) / float64(1<<unix.SI_LOAD_SHIFT)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	hs.MemTotal = uint64(info.Totalram) * unit
	hs.MemFree = uint64(info.Freeram) * unit
	hs.Uptime = float64(info.Uptime)

	cur, e := readCPUTimes("/proc/stat")
	if e != nil {
		return hs, e
	}
	s.mx.Lock()
	hs.CPUs = utilisation(s.prev, cur)
	s.prev = cur
	s.mx.Unlock()
	return hs, nil
}
