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


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/gdamore/prefork"
)

// BroadcastEvent carries a message from one worker to all the others.
const BroadcastEvent = "broadcast"

// app is the HTTP service each worker runs.  It is small on purpose, but
// it uses the cluster bus both ways.
type app struct {
	id       int
	slot     int
	logger   *log.Logger
	hits     atomic.Int64
	received atomic.Int64
}

func newApp(id, slot int, logger *log.Logger) *app {
	return &app{id: id, slot: slot, logger: logger}
}

func (a *app) writeJson(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	if e := json.NewEncoder(w).Encode(v); e != nil {
		a.logger.Printf("Failed to encode reply: %v", e)
	}
}

type hello struct {
	Worker   int   `json:"worker"`
	Slot     int   `json:"slot"`
	Hits     int64 `json:"hits"`
	Received int64 `json:"broadcasts"`
}

func (a *app) hello(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, hello{
		Worker:   a.id,
		Slot:     a.slot,
		Hits:     a.hits.Add(1),
		Received: a.received.Load(),
	})
}

func (a *app) status(bus *prefork.ClusterBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		st, e := prefork.RequestStatus(ctx, bus)
		if e != nil {
			a.writeJson(w, http.StatusGatewayTimeout,
				map[string]string{"error": e.Error()})
			return
		}
		a.writeJson(w, http.StatusOK, st)
	}
}

func (a *app) broadcast(bus *prefork.ClusterBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, e := io.ReadAll(io.LimitReader(r.Body, 4096))
		if e != nil {
			a.writeJson(w, http.StatusBadRequest,
				map[string]string{"error": e.Error()})
			return
		}
		bus.Emit(BroadcastEvent, string(b))
		w.WriteHeader(http.StatusAccepted)
	}
}

func (a *app) onBroadcast(meta prefork.Meta, data ...interface{}) {
	a.received.Add(1)
	from := "master"
	if id, ok := meta.ID(); ok {
		from = fmt.Sprintf("worker %d", id)
	}
	a.logger.Printf("Broadcast from %s: %v", from, data)
}

func (a *app) router(bus *prefork.ClusterBus) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", a.hello).Methods("GET")
	r.HandleFunc("/status", a.status(bus)).Methods("GET")
	r.HandleFunc("/broadcast", a.broadcast(bus)).Methods("POST")
	return r
}

// Serve implements prefork.Application.
func (a *app) Serve(ctx context.Context, l net.Listener, bus *prefork.ClusterBus) error {
	sub := bus.On(BroadcastEvent, a.onBroadcast)
	defer sub.Unsubscribe()

	srv := &http.Server{Handler: a.router(bus)}
	stop := context.AfterFunc(ctx, func() {
		srv.Close()
	})
	defer stop()

	a.logger.Printf("Worker %d serving on %s", a.id, l.Addr())
	if e := srv.Serve(l); e != nil && !errors.Is(e, http.ErrServerClosed) {
		return e
	}
	return nil
}
