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
	"io"
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is one line of the consolidated log.  Source names the
// process that produced it: "master", or "worker-<id>".
type LogRecord struct {
	Id     int64     `json:"id,string" yaml:"id"`
	Time   time.Time `json:"time" yaml:"time"`
	Source string    `json:"source" yaml:"source"`
	Text   string    `json:"text" yaml:"text"`
}

// Log is a bounded ring of log records shared by the master and its
// workers.  Each change advances an ID usable as an Etag, and Watch lets
// callers block until the log changes.
type Log struct {
	ring    []LogRecord
	next    int // total records appended since the last Clear
	id      int64
	changed chan struct{} // closed on the next change
	mx      sync.Mutex
}

func (log *Log) lock() {
	log.mx.Lock()
}

func (log *Log) unlock() {
	log.mx.Unlock()
}

// notify wakes watchers.  It must be called with the lock held.
func (log *Log) notify() {
	close(log.changed)
	log.changed = make(chan struct{})
}

func (log *Log) append(source string, b []byte) {
	text := strings.Trim(string(b), "\n")
	now := time.Now()
	log.lock()
	defer log.unlock()
	for _, line := range strings.Split(text, "\n") {
		log.id++
		log.ring[log.next%len(log.ring)] = LogRecord{
			Id:     log.id,
			Time:   now,
			Source: source,
			Text:   line,
		}
		log.next++
	}
	log.notify()
}

// Write records lines with no source.
func (log *Log) Write(b []byte) (int, error) {
	log.append("", b)
	return len(b), nil
}

type sourceWriter struct {
	log    *Log
	source string
}

func (w *sourceWriter) Write(b []byte) (int, error) {
	w.log.append(w.source, b)
	return len(b), nil
}

// Writer returns a Writer whose lines are recorded under source.
func (log *Log) Writer(source string) io.Writer {
	return &sourceWriter{log: log, source: source}
}

func (log *Log) Clear() {
	log.lock()
	defer log.unlock()
	log.next = 0
	// IDs must keep moving forward, so that stale etags never match.
	if now := time.Now().UnixNano(); now > log.id {
		log.id = now
	} else {
		log.id++
	}
	log.notify()
}

// GetRecords returns the stored records, oldest first, with the log's
// current ID for use as an Etag.  If last equals that ID the log has not
// changed, and no records are returned.  IDs are not unique across Log
// instances.
func (log *Log) GetRecords(last int64) ([]LogRecord, int64) {
	log.lock()
	defer log.unlock()
	if log.id == last {
		return nil, last
	}
	n := log.next
	if n > len(log.ring) {
		n = len(log.ring)
	}
	recs := make([]LogRecord, 0, n)
	for i := log.next - n; i < log.next; i++ {
		recs = append(recs, log.ring[i%len(log.ring)])
	}
	return recs, log.id
}

// Watch blocks until the log ID differs from last, or expire elapses,
// and returns the current ID.  An expire of zero does not wait.
func (log *Log) Watch(last int64, expire time.Duration) int64 {
	return log.WatchContext(context.Background(), last, expire)
}

// WatchContext is Watch, but it also returns when ctx is done.
func (log *Log) WatchContext(ctx context.Context, last int64, expire time.Duration) int64 {
	log.lock()
	id, changed := log.id, log.changed
	log.unlock()
	if id != last || expire <= 0 {
		return id
	}

	t := time.NewTimer(expire)
	defer t.Stop()
	select {
	case <-changed:
	case <-t.C:
	case <-ctx.Done():
	}

	log.lock()
	defer log.unlock()
	return log.id
}

// NewLog returns a Log holding up to max records, or MaxLogRecords if max
// is not positive.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	return &Log{
		ring:    make([]LogRecord, max),
		id:      time.Now().UnixNano(),
		changed: make(chan struct{}),
	}
}
