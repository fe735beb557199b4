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
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Kind classifies an Event.
type Kind string

const (
	KindMessage Kind = "message"
	KindEvent   Kind = "event"
	KindLog     Kind = "log"
)

var kinds = []string{string(KindMessage), string(KindEvent), string(KindLog)}

func (k Kind) valid() bool {
	switch k {
	case KindMessage, KindEvent, KindLog:
		return true
	}
	return false
}

// Meta carries out-of-band attributes of an Event.  The master records
// the originating worker under the "id" key.
type Meta map[string]interface{}

func (m Meta) clone() Meta {
	rv := make(Meta, len(m))
	for k, v := range m {
		rv[k] = v
	}
	return rv
}

// ID returns the worker ID stored under "id", if there is one.  Numbers
// that crossed the IPC channel arrive as float64, so those are accepted.
func (m Meta) ID() (int, bool) {
	switch v := m["id"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		if n, e := v.Int64(); e == nil {
			return int(n), true
		}
	}
	return 0, false
}

// Event is the unit of communication on the bus.  Events are immutable;
// accessors return copies.
type Event struct {
	name string
	kind Kind
	data []interface{}
	meta Meta
}

// NewEvent validates and constructs an Event.  The meta argument may be
// nil, or any map keyed by strings.
func NewEvent(name string, kind Kind, meta interface{}, data ...interface{}) (*Event, error) {
	if !kind.valid() {
		return nil, &ValidationError{Field: "type", Value: kind, Allowed: kinds}
	}
	m, e := toMeta(meta)
	if e != nil {
		return nil, e
	}
	return &Event{
		name: name,
		kind: kind,
		data: append([]interface{}{}, data...),
		meta: m,
	}, nil
}

func toMeta(meta interface{}) (Meta, error) {
	switch v := meta.(type) {
	case nil:
		return Meta{}, nil
	case Meta:
		return v.clone(), nil
	case map[string]interface{}:
		return Meta(v).clone(), nil
	}
	rv := reflect.ValueOf(meta)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, &ValidationError{Field: "meta", Value: meta}
	}
	m := make(Meta, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = iter.Value().Interface()
	}
	return m, nil
}

func (e *Event) Name() string {
	return e.name
}

func (e *Event) Kind() Kind {
	return e.kind
}

func (e *Event) Data() []interface{} {
	return append([]interface{}{}, e.data...)
}

func (e *Event) Meta() Meta {
	return e.meta.clone()
}

// WithMeta returns a copy of the event with one meta key replaced.
func (e *Event) WithMeta(key string, value interface{}) *Event {
	m := e.meta.clone()
	m[key] = value
	return &Event{name: e.name, kind: e.kind, data: e.data, meta: m}
}

// Describe renders the event for logs, as "[type] name(meta): data."
func (e *Event) Describe() string {
	meta, err := json.Marshal(e.meta)
	if err != nil {
		meta = []byte(fmt.Sprint(map[string]interface{}(e.meta)))
	}
	parts := make([]string, 0, len(e.data))
	for _, d := range e.data {
		if b, err := json.Marshal(d); err == nil {
			parts = append(parts, string(b))
		} else {
			parts = append(parts, fmt.Sprint(d))
		}
	}
	return fmt.Sprintf("[%s] %s(%s): %s.",
		e.kind, e.name, meta, strings.Join(parts, ", "))
}

// Record is the transport form of an Event.
type Record struct {
	Name string        `json:"name"`
	Type Kind          `json:"type"`
	Data []interface{} `json:"data"`
	Meta Meta          `json:"meta"`
}

func (e *Event) Record() Record {
	return Record{
		Name: e.name,
		Type: e.kind,
		Data: e.Data(),
		Meta: e.Meta(),
	}
}

// FromRecord reconstructs an Event, applying the same validation as
// NewEvent.
func FromRecord(r Record) (*Event, error) {
	return NewEvent(r.Name, r.Type, r.Meta, r.Data...)
}
