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

//go:build !linux

package prefork

import (
	"runtime"
)

// Only Linux exposes the counters we report; elsewhere the CPU list is
// sized but empty of data.
type cpuSampler struct{}

func (s *cpuSampler) sample() (HostStats, error) {
	return HostStats{CPUs: make([]float64, runtime.NumCPU())}, nil
}
