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
	"fmt"
	"strings"
)

var (
	ErrExitedBeforeReady = errors.New("Worker exited before becoming ready")
	ErrTerminationFailed = errors.New("Worker would not terminate")
	ErrChannelClosed     = errors.New("IPC channel closed")
	ErrNotRunning        = errors.New("Master is not running")
	ErrNoWorker          = errors.New("No such worker")
	ErrRateLimited       = errors.New("Restarting too quickly")
	ErrReadyTimeout      = errors.New("Timed out waiting for worker readiness")
	ErrNotWorker         = errors.New("Process was not started as a worker")
)

// errSlotBusy means another worker is already being started in the slot.
var errSlotBusy = errors.New("Slot is already being filled")

// ValidationError is returned when an Event cannot be constructed.
type ValidationError struct {
	Field   string
	Value   interface{}
	Allowed []string
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) != 0 {
		return fmt.Sprintf("invalid event %s %v: must be one of {%s}",
			e.Field, e.Value, strings.Join(e.Allowed, ","))
	}
	return fmt.Sprintf("invalid event %s: %T is not a string-keyed mapping",
		e.Field, e.Value)
}

// TerminationError reports a worker that could not be stopped.  It wraps
// ErrTerminationFailed, and carries the signalling error if there was one.
type TerminationError struct {
	ID    int
	Pid   int
	Level Level
	Err   error
}

func (e *TerminationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker %d (pid %d): %v at %s: %v",
			e.ID, e.Pid, ErrTerminationFailed, e.Level, e.Err)
	}
	return fmt.Sprintf("worker %d (pid %d): %v after %s",
		e.ID, e.Pid, ErrTerminationFailed, e.Level)
}

func (e *TerminationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTerminationFailed, e.Err}
	}
	return []error{ErrTerminationFailed}
}
