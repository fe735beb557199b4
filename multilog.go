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
	"log"
	"strings"
	"sync"
)

// MultiLogger fans each line written to its Logger out to several
// loggers, each keeping its own prefix and flags.  The master makes one
// per source, writing to stderr and to the consolidated Log.
type MultiLogger struct {
	log     *log.Logger
	targets []*log.Logger // replaced, never modified in place
	mx      sync.RWMutex
}

func (l *MultiLogger) snapshot() []*log.Logger {
	l.mx.RLock()
	defer l.mx.RUnlock()
	return l.targets
}

// Write splits b into lines and hands each to every target.  Blank
// lines are dropped.
func (l *MultiLogger) Write(b []byte) (int, error) {
	targets := l.snapshot()
	for _, line := range strings.Split(string(b), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, t := range targets {
			t.Output(2, line)
		}
	}
	return len(b), nil
}

// AddLogger adds a target.  Adding one already present does nothing.
func (l *MultiLogger) AddLogger(logger *log.Logger) {
	l.mx.Lock()
	defer l.mx.Unlock()
	for _, t := range l.targets {
		if t == logger {
			return
		}
	}
	targets := make([]*log.Logger, 0, len(l.targets)+1)
	l.targets = append(append(targets, l.targets...), logger)
}

func (l *MultiLogger) DelLogger(logger *log.Logger) {
	l.mx.Lock()
	defer l.mx.Unlock()
	targets := make([]*log.Logger, 0, len(l.targets))
	for _, t := range l.targets {
		if t != logger {
			targets = append(targets, t)
		}
	}
	l.targets = targets
}

// Len is the number of targets.
func (l *MultiLogger) Len() int {
	return len(l.snapshot())
}

func (l *MultiLogger) Logger() *log.Logger {
	return l.log
}

func NewMultiLogger(loggers ...*log.Logger) *MultiLogger {
	l := &MultiLogger{}
	l.log = log.New(l, "", 0)
	for _, t := range loggers {
		l.AddLogger(t)
	}
	return l
}
