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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// StatusRequest is the event that asks the master for a Status.  Its
// only datum is the correlation ID under which the reply is emitted.
const StatusRequest = "masterStatus"

// HostStats are operating system metrics for the master's host.
type HostStats struct {
	LoadAvg  [3]float64 `json:"loadavg" yaml:"loadavg"`
	MemTotal uint64     `json:"memTotal" yaml:"memTotal"`
	MemFree  uint64     `json:"memFree" yaml:"memFree"`
	CPUs     []float64  `json:"cpus" yaml:"cpus"`
	Uptime   float64    `json:"uptime" yaml:"uptime"`
}

// Status is the master's answer to a StatusRequest.
type Status struct {
	Request string       `json:"request" yaml:"request"`
	Pid     int          `json:"pid" yaml:"pid"`
	State   string       `json:"state" yaml:"state"`
	Started time.Time    `json:"started" yaml:"started"`
	Size    int          `json:"size" yaml:"size"`
	Host    HostStats    `json:"host" yaml:"host"`
	Workers []WorkerInfo `json:"workers" yaml:"workers"`
}

func (m *Master) hostStats() HostStats {
	if v, found := m.stats.Get("host"); found {
		return v.(HostStats)
	}
	hs, e := m.cpu.sample()
	if e != nil {
		m.logger.Printf("Host stats: %v", e)
	}
	m.stats.Set("host", hs, cache.DefaultExpiration)
	return hs
}

// Status returns a snapshot of the master and its pool.
func (m *Master) Status() Status {
	m.lock()
	state := m.state
	started := m.started
	m.unlock()
	return Status{
		Pid:     os.Getpid(),
		State:   state.String(),
		Started: started,
		Size:    m.size,
		Host:    m.hostStats(),
		Workers: m.Workers(),
	}
}

func (m *Master) handleStatus(meta Meta, data ...interface{}) {
	if len(data) == 0 {
		return
	}
	id, ok := data[0].(string)
	if !ok || id == "" {
		m.logger.Printf("Status request without correlation id")
		return
	}
	st := m.Status()
	st.Request = id
	m.bus.Emit(id, st)
}

// RequestStatus asks the master for its Status over the bus.  It works in
// the master and in any worker.
func RequestStatus(ctx context.Context, bus *ClusterBus) (*Status, error) {
	return requestStatus(ctx, bus, uuid.NewString())
}

func requestStatus(ctx context.Context, bus *ClusterBus, id string) (*Status, error) {
	reply := make(chan interface{}, 1)
	sub := bus.Once(id, func(meta Meta, data ...interface{}) {
		var v interface{}
		if len(data) != 0 {
			v = data[0]
		}
		reply <- v
	})
	defer sub.Unsubscribe()

	bus.Emit(StatusRequest, id)

	select {
	case v := <-reply:
		return decodeStatus(v)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// decodeStatus accepts a Status directly, or the generic form it takes
// after crossing the IPC channel.
func decodeStatus(v interface{}) (*Status, error) {
	if st, ok := v.(Status); ok {
		return &st, nil
	}
	b, e := json.Marshal(v)
	if e != nil {
		return nil, fmt.Errorf("decoding status: %w", e)
	}
	st := &Status{}
	if e := json.Unmarshal(b, st); e != nil {
		return nil, fmt.Errorf("decoding status: %w", e)
	}
	return st, nil
}
