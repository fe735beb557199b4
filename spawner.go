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
	"fmt"
	"io"
	"log"
	"os"
	"syscall"
)

// Environment variables through which a worker learns its role.
const (
	EnvWorkerID   = "PREFORK_WORKER_ID"
	EnvWorkerSlot = "PREFORK_WORKER_SLOT"
)

// The worker's end of the IPC socket pair is always descriptor 3, the
// first of exec.Cmd's ExtraFiles.
const ipcFd = 3

// ExitStatus describes how a worker process ended.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
	Signo  int    `json:"signo,omitempty"`
}

// Clean reports a zero exit code without a signal.
func (s ExitStatus) Clean() bool {
	return s.Code == 0 && s.Signo == 0
}

// ExitCode folds the status into a shell style exit code.
func (s ExitStatus) ExitCode() int {
	if s.Signo != 0 {
		return 128 + s.Signo
	}
	return s.Code
}

func (s ExitStatus) String() string {
	if s.Signo != 0 {
		return "signal " + s.Signal
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

func exitStatus(ps *os.ProcessState) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{
			Code:   -1,
			Signal: ws.Signal().String(),
			Signo:  int(ws.Signal()),
		}
	}
	return ExitStatus{Code: ps.ExitCode()}
}

// Process is a running worker process.
type Process interface {
	Pid() int
	Signal(os.Signal) error

	// Wait blocks until the process has exited.  It is called once.
	Wait() ExitStatus
}

// Spawner starts worker processes.  The returned stream is the master's
// end of the worker's IPC channel.  Output the process writes to stdout
// or stderr goes to the logger.
type Spawner interface {
	Spawn(id, slot int, logger *log.Logger) (Process, io.ReadWriteCloser, error)
}
