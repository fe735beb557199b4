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

//go:build unix

package prefork

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExecSpawner starts workers by executing a program, normally the
// running binary with arguments selecting the worker role.
type ExecSpawner struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// NewExecSpawner returns a spawner that re-executes the current binary
// with the given arguments.
func NewExecSpawner(args ...string) (*ExecSpawner, error) {
	exe, e := os.Executable()
	if e != nil {
		return nil, fmt.Errorf("locating executable: %w", e)
	}
	return &ExecSpawner{
		Path: exe,
		Args: append([]string{exe}, args...),
	}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Wait() ExitStatus {
	p.cmd.Wait()
	return exitStatus(p.cmd.ProcessState)
}

func doLog(logger *log.Logger, r io.ReadCloser, prefix string) {
	// Gather stdout/stderr in chunks of lines
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			logger.Print(prefix, strings.Trim(line, "\n"))
		}
		if err != nil {
			return
		}
	}
}

func socketPair() (*os.File, *os.File, error) {
	fds, e := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if e != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", e)
	}
	return os.NewFile(uintptr(fds[0]), "ipc-master"),
		os.NewFile(uintptr(fds[1]), "ipc-worker"), nil
}

func (s *ExecSpawner) Spawn(id, slot int, logger *log.Logger) (Process, io.ReadWriteCloser, error) {
	mine, theirs, e := socketPair()
	if e != nil {
		return nil, nil, e
	}
	defer theirs.Close()

	conn, e := net.FileConn(mine)
	mine.Close()
	if e != nil {
		return nil, nil, fmt.Errorf("ipc channel: %w", e)
	}

	cmd := &exec.Cmd{
		Path:       s.Path,
		Args:       s.Args,
		Dir:        s.Dir,
		ExtraFiles: []*os.File{theirs},
		SysProcAttr: &syscall.SysProcAttr{
			// Keep terminal signals away from workers; the master
			// decides when they stop.
			Setpgid: true,
		},
	}
	setPdeathsig(cmd.SysProcAttr)
	env := s.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(append([]string{}, env...),
		EnvWorkerID+"="+strconv.Itoa(id),
		EnvWorkerSlot+"="+strconv.Itoa(slot))

	if stdout, e := cmd.StdoutPipe(); e != nil {
		logger.Printf("Failed to capture stdout: %v", e)
	} else {
		go doLog(logger, stdout, "stdout> ")
	}
	if stderr, e := cmd.StderrPipe(); e != nil {
		logger.Printf("Failed to capture stderr: %v", e)
	} else {
		go doLog(logger, stderr, "stderr> ")
	}

	if e := cmd.Start(); e != nil {
		conn.Close()
		return nil, nil, e
	}
	return &execProcess{cmd: cmd}, conn, nil
}
