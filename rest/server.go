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

package rest

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/gdamore/prefork"
)

// Supervisor is the part of a master the server needs.  *prefork.Master
// implements it.
type Supervisor interface {
	Bus() *prefork.ClusterBus
	Workers() []prefork.WorkerInfo
	Log() *prefork.Log
	RequestRestart(prefork.PendingRestart)
}

// Handler wraps a Supervisor, adding http.Handler functionality.
type Handler struct {
	s        Supervisor
	r        *mux.Router
	user     string
	hash     []byte
	timeout  time.Duration
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	h.writeJsonStatus(w, http.StatusOK, v)
}

func (h *Handler) writeJsonStatus(w http.ResponseWriter, code int, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(code)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	st, e := prefork.RequestStatus(ctx, h.s.Bus())
	if e != nil {
		h.writeError(w, &Error{http.StatusGatewayTimeout, e.Error()})
		return
	}
	h.writeJson(w, st)
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	h.writeJson(w, h.s.Workers())
}

func (h *Handler) findWorker(name string) (prefork.WorkerInfo, *Error) {
	id, e := strconv.Atoi(name)
	if e == nil {
		for _, info := range h.s.Workers() {
			if info.ID == id {
				return info, nil
			}
		}
	}
	return prefork.WorkerInfo{}, &Error{http.StatusNotFound, "Worker not found"}
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if info, e := h.findWorker(vars["worker"]); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, info)
	}
}

func (h *Handler) restartAll(w http.ResponseWriter, r *http.Request) {
	h.s.RequestRestart(prefork.PendingRestart{
		Scope:  prefork.ScopeAllWorkers,
		Reason: "requested by " + r.RemoteAddr,
	})
	h.writeJsonStatus(w, http.StatusAccepted, &Accepted{Scope: prefork.ScopeAllWorkers})
}

func (h *Handler) restartWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if info, e := h.findWorker(vars["worker"]); e != nil {
		h.writeError(w, e)
	} else {
		h.s.RequestRestart(prefork.PendingRestart{
			Scope:    prefork.ScopeSingleWorker,
			Reason:   "requested by " + r.RemoteAddr,
			WorkerID: info.ID,
		})
		h.writeJsonStatus(w, http.StatusAccepted, &Accepted{
			Scope:    prefork.ScopeSingleWorker,
			WorkerID: info.ID,
		})
	}
}

// getLog returns the log records.  The Etag changes whenever the log does,
// so clients can poll with If-None-Match, or long poll with the
// PollEtagHeader.  A source query parameter filters by origin.
func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	l := h.s.Log()
	if tag := r.Header.Get(PollEtagHeader); tag != "" {
		if last, valid := parseEtag(tag); valid {
			secs, _ := strconv.Atoi(r.Header.Get(PollTimeHeader))
			if secs > MaxPollTime {
				secs = MaxPollTime
			}
			if secs > 0 {
				l.WatchContext(r.Context(), last, time.Duration(secs)*time.Second)
			}
		}
	}
	recs, id := l.GetRecords(0)
	etag := formatEtag(id)
	w.Header().Set("Etag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if source := r.URL.Query().Get("source"); source != "" {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.Source == source {
				kept = append(kept, rec)
			}
		}
		recs = kept
	}
	if recs == nil {
		recs = []prefork.LogRecord{}
	}
	h.writeJson(w, recs)
}

// streamEvents relays every bus event to a websocket client, until the
// client goes away.  A client that cannot keep up loses events rather
// than stalling the bus.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, e := h.upgrader.Upgrade(w, r, nil)
	if e != nil {
		// Upgrade has already replied.
		return
	}
	defer conn.Close()

	events := make(chan EventRecord, 64)
	sub := h.s.Bus().OnAll(func(name string, meta prefork.Meta, data ...interface{}) {
		ev, e := prefork.NewEvent(name, prefork.KindEvent, meta, data...)
		if e != nil {
			return
		}
		select {
		case events <- ev.Record():
		default:
		}
	})
	defer sub.Unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, e := conn.ReadMessage(); e != nil {
				return
			}
		}
	}()

	for {
		select {
		case rec := <-events:
			if e := conn.WriteJSON(rec); e != nil {
				h.logger.Printf("Event stream to %s: %v", r.RemoteAddr, e)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// authorize checks HTTP basic auth, when a user has been configured.
func (h *Handler) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.user != "" {
			user, pass, found := r.BasicAuth()
			if !found || user != h.user ||
				bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="prefork"`)
				h.writeError(w, &Error{http.StatusUnauthorized, "Unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// SetAuth requires HTTP basic auth, with the password checked against a
// bcrypt hash.  An empty user disables authentication.
func (h *Handler) SetAuth(user string, hash string) {
	h.user = user
	h.hash = []byte(hash)
}

// SetTimeout bounds how long /status waits for the master's reply.
func (h *Handler) SetTimeout(d time.Duration) {
	h.timeout = d
}

func NewHandler(s Supervisor, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	r := mux.NewRouter()
	h := &Handler{
		s:       s,
		r:       r,
		timeout: 5 * time.Second,
		logger:  logger,
	}
	r.Use(h.authorize)
	r.HandleFunc("/status", h.getStatus).Methods("GET")
	r.HandleFunc("/workers", h.listWorkers).Methods("GET")
	r.HandleFunc("/workers/{worker}", h.getWorker).Methods("GET")
	r.HandleFunc("/workers/{worker}/restart", h.restartWorker).Methods("POST")
	r.HandleFunc("/restart", h.restartAll).Methods("POST")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/events", h.streamEvents).Methods("GET")
	return h
}
