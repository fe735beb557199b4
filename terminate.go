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
	"errors"
	"log"
	"os"
	"syscall"
	"time"
)

// Level is a step of escalating termination.
type Level int

const (
	LevelInterrupt Level = iota
	LevelTerminate
	LevelKill
)

func (l Level) String() string {
	switch l {
	case LevelInterrupt:
		return "interrupt"
	case LevelTerminate:
		return "terminate"
	case LevelKill:
		return "kill"
	}
	return "unknown"
}

// Signal returns the operating system signal sent at this level.
func (l Level) Signal() os.Signal {
	switch l {
	case LevelInterrupt:
		return syscall.SIGINT
	case LevelTerminate:
		return syscall.SIGTERM
	}
	return syscall.SIGKILL
}

// Timeouts bounds each termination step.
type Timeouts struct {
	Interrupt time.Duration
	Terminate time.Duration
	Kill      time.Duration
}

var DefaultTimeouts = Timeouts{
	Interrupt: 10 * time.Second,
	Terminate: 5 * time.Second,
	Kill:      5 * time.Second,
}

func (t Timeouts) at(l Level) time.Duration {
	var d time.Duration
	switch l {
	case LevelInterrupt:
		d = t.Interrupt
	case LevelTerminate:
		d = t.Terminate
	default:
		d = t.Kill
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Clock is the source of time for timeouts.  Tests substitute a clock
// that advances only when told to.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

type realClock struct{}

type realTimer struct {
	t *time.Timer
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

func (t realTimer) C() <-chan time.Time {
	return t.t.C
}

func (t realTimer) Stop() bool {
	return t.t.Stop()
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// target is something escalate can stop.
type target interface {
	ID() int
	Pid() int
	signal(Level) error
	Exited() <-chan struct{}
}

func exited(t target) bool {
	select {
	case <-t.Exited():
		return true
	default:
		return false
	}
}

// escalate stops t, stepping from interrupt to terminate to kill.  Each
// level is signaled, then waited on for its own timeout; the machine ends
// as soon as the target exits.  Running out of levels, or failing to
// signal a live process, yields a TerminationError.
func escalate(t target, clock Clock, to Timeouts, logger *log.Logger) error {
	level := LevelInterrupt
	for {
		if e := t.signal(level); e != nil {
			if exited(t) || errors.Is(e, os.ErrProcessDone) {
				<-t.Exited()
				return nil
			}
			return &TerminationError{ID: t.ID(), Pid: t.Pid(), Level: level, Err: e}
		}

		timer := clock.NewTimer(to.at(level))
		select {
		case <-t.Exited():
			timer.Stop()
			return nil
		case <-timer.C():
		}

		if level == LevelKill {
			return &TerminationError{ID: t.ID(), Pid: t.Pid(), Level: level}
		}
		logger.Printf("Worker %d (pid %d) ignored %s after %v",
			t.ID(), t.Pid(), level, to.at(level))
		level++
	}
}
