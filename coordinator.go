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
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rjeczalik/notify"
)

// Scope says how much of the system a restart covers.
type Scope int

const (
	ScopeSingleWorker Scope = iota
	ScopeAllWorkers
	ScopeWholeSystem
)

func (s Scope) String() string {
	switch s {
	case ScopeSingleWorker:
		return "singleWorker"
	case ScopeAllWorkers:
		return "allWorkers"
	case ScopeWholeSystem:
		return "wholeSystem"
	}
	return "unknown"
}

func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(b []byte) error {
	switch string(b) {
	case "singleWorker":
		*s = ScopeSingleWorker
	case "allWorkers":
		*s = ScopeAllWorkers
	case "wholeSystem":
		*s = ScopeWholeSystem
	default:
		return fmt.Errorf("unknown restart scope %q", b)
	}
	return nil
}

// PendingRestart is a request for the master to restart something.
// WorkerID is used only with ScopeSingleWorker.
type PendingRestart struct {
	Scope    Scope  `json:"scope"`
	Reason   string `json:"reason"`
	WorkerID int    `json:"worker,omitempty"`
}

// Requester accepts restart requests.  Master implements it.
type Requester interface {
	RequestRestart(PendingRestart)
}

// DefaultMasterFiles are the sources of the supervisor and the event bus.
// Changing them calls for a restart of the master itself.
var DefaultMasterFiles = []string{
	"go.mod",
	"go.sum",
	"master.go",
	"bus.go",
	"clusterbus.go",
	"event.go",
	"preforkd/*.go",
}

// DefaultIgnore matches editor and version control noise.
var DefaultIgnore = []string{
	".git",
	".hg",
	"*.swp",
	"*.swx",
	"*~",
	".#*",
	"4913",
}

type CoordinatorConfig struct {
	Root        string
	MasterFiles []string
	Ignore      []string
	Debounce    time.Duration
	Logger      *log.Logger
}

// Coordinator turns changes under a source tree into restart requests.
type Coordinator struct {
	root        string
	masterFiles []string
	ignore      []string
	debounce    time.Duration
	logger      *log.Logger
	requester   Requester
	hashes      map[string]uint64
	mx          sync.Mutex
}

func NewCoordinator(cfg CoordinatorConfig, r Requester) (*Coordinator, error) {
	root, e := filepath.Abs(cfg.Root)
	if e != nil {
		return nil, fmt.Errorf("watch root: %w", e)
	}
	// Watch events carry real paths.
	if real, e := filepath.EvalSymlinks(root); e == nil {
		root = real
	}
	c := &Coordinator{
		root:        root,
		masterFiles: cfg.MasterFiles,
		ignore:      cfg.Ignore,
		debounce:    cfg.Debounce,
		logger:      cfg.Logger,
		requester:   r,
		hashes:      make(map[string]uint64),
	}
	if c.masterFiles == nil {
		c.masterFiles = DefaultMasterFiles
	}
	if c.ignore == nil {
		c.ignore = DefaultIgnore
	}
	if c.debounce <= 0 {
		c.debounce = 250 * time.Millisecond
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return c, nil
}

func (c *Coordinator) rel(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.root, path)
	}
	rel, e := filepath.Rel(c.root, path)
	if e != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (c *Coordinator) ignored(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		for _, pat := range c.ignore {
			if ok, _ := filepath.Match(pat, part); ok {
				return true
			}
		}
	}
	return false
}

func (c *Coordinator) isMasterFile(rel string) bool {
	base := filepath.Base(rel)
	for _, pat := range c.masterFiles {
		if ok, _ := filepath.Match(pat, rel); ok {
			return true
		}
		if !strings.Contains(pat, "/") {
			if ok, _ := filepath.Match(pat, base); ok {
				return true
			}
		}
	}
	return false
}

// Classify maps a changed path to the restart it calls for.  Ignored
// paths report false.
func (c *Coordinator) Classify(path string) (PendingRestart, bool) {
	rel := c.rel(path)
	if rel == "." || strings.HasPrefix(rel, "../") || c.ignored(rel) {
		return PendingRestart{}, false
	}
	if c.isMasterFile(rel) {
		return PendingRestart{Scope: ScopeWholeSystem, Reason: rel}, true
	}
	return PendingRestart{Scope: ScopeAllWorkers, Reason: rel}, true
}

func hashFile(path string) (uint64, bool) {
	f, e := os.Open(path)
	if e != nil {
		return 0, false
	}
	defer f.Close()
	h := xxhash.New()
	if _, e := io.Copy(h, f); e != nil {
		return 0, false
	}
	return h.Sum64(), true
}

// changed reports whether the file's content differs from what was last
// seen.  Writes that leave the content as it was are not changes.
func (c *Coordinator) changed(path string) bool {
	if fi, e := os.Stat(path); e == nil && fi.IsDir() {
		return false
	}
	sum, ok := hashFile(path)
	c.mx.Lock()
	defer c.mx.Unlock()
	old, seen := c.hashes[path]
	if !ok {
		delete(c.hashes, path)
		return true
	}
	c.hashes[path] = sum
	return !seen || old != sum
}

func (c *Coordinator) prime() {
	filepath.WalkDir(c.root, func(path string, d fs.DirEntry, e error) error {
		if e != nil {
			return nil
		}
		if path != c.root && c.ignored(c.rel(path)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			c.changed(path)
		}
		return nil
	})
}

// Watch is an active watch on the tree.  Close releases it.
type Watch struct {
	events   chan notify.EventInfo
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

// Watch starts watching the tree recursively.
func (c *Coordinator) Watch() (*Watch, error) {
	c.prime()
	w := &Watch{
		events:   make(chan notify.EventInfo, 128),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	e := notify.Watch(filepath.Join(c.root, "..."), w.events,
		notify.Create, notify.Write, notify.Remove, notify.Rename)
	if e != nil {
		return nil, fmt.Errorf("watching %s: %w", c.root, e)
	}
	c.logger.Printf("Watching %s for changes", c.root)
	go func() {
		defer close(w.finished)
		c.run(w.events, w.done)
	}()
	return w, nil
}

// Close stops the watch and waits for pending work.  It is safe to call
// more than once.
func (w *Watch) Close() error {
	w.once.Do(func() {
		notify.Stop(w.events)
		close(w.done)
		<-w.finished
	})
	return nil
}

type pending struct {
	scope Scope
	files []string
}

func (p *pending) add(req PendingRestart) {
	if req.Scope > p.scope {
		p.scope = req.Scope
	}
	p.files = append(p.files, req.Reason)
}

func (p *pending) request() PendingRestart {
	reason := strings.Join(p.files, ", ")
	if len(p.files) > 3 {
		reason = fmt.Sprintf("%s and %d more",
			strings.Join(p.files[:3], ", "), len(p.files)-3)
	}
	return PendingRestart{Scope: p.scope, Reason: reason}
}

// run coalesces changes arriving within the debounce window into one
// request, of the widest scope among them.
func (c *Coordinator) run(events <-chan notify.EventInfo, done <-chan struct{}) {
	var p *pending
	timer := time.NewTimer(c.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-done:
			return
		case ei := <-events:
			req, ok := c.Classify(ei.Path())
			if !ok || !c.changed(ei.Path()) {
				continue
			}
			if p == nil {
				p = &pending{scope: req.Scope}
			}
			p.add(req)
			timer.Reset(c.debounce)
		case <-timer.C:
			if p == nil {
				continue
			}
			req := p.request()
			p = nil
			c.logger.Printf("Changes detected (%s): requesting %s restart",
				req.Reason, req.Scope)
			c.requester.RequestRestart(req)
		}
	}
}
