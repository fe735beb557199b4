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
	"errors"
	"fmt"
)

// Message is a frame exchanged between master and worker.  It is one of
// ShutdownMessage, EventMessage, LogMessage, ReadyMessage, or
// UnknownMessage.
type Message interface {
	messageType() string
}

// ShutdownMessage asks a worker to exit immediately.
type ShutdownMessage struct{}

// EventMessage carries an event across the process boundary.
type EventMessage struct {
	Event *Event
}

// LogMessage carries worker log output to the master.
type LogMessage struct {
	Level string
	Args  []interface{}
}

// ReadyMessage is the readiness signal a worker sends once its listener is
// bound.  On the wire it is a "signal" frame rather than a typed envelope.
type ReadyMessage struct {
	Pid  int
	Addr string
}

// UnknownMessage is a frame with a type this version does not understand.
type UnknownMessage struct {
	Type string
	Raw  json.RawMessage
}

func (ShutdownMessage) messageType() string { return "shutdown" }
func (EventMessage) messageType() string    { return "event" }
func (LogMessage) messageType() string      { return "log" }
func (ReadyMessage) messageType() string    { return "ready" }
func (m UnknownMessage) messageType() string {
	return m.Type
}

const signalReady = "ready"

type frame struct {
	Type   string        `json:"type,omitempty"`
	Signal string        `json:"signal,omitempty"`
	Event  *Record       `json:"event,omitempty"`
	Level  string        `json:"level,omitempty"`
	Args   []interface{} `json:"args,omitempty"`
	Pid    int           `json:"pid,omitempty"`
	Addr   string        `json:"addr,omitempty"`
}

var errMissingEvent = errors.New("event frame without event")

// EncodeMessage returns the JSON form of m, without a trailing newline.
func EncodeMessage(m Message) ([]byte, error) {
	var f frame
	switch m := m.(type) {
	case ShutdownMessage:
		f.Type = "shutdown"
	case EventMessage:
		if m.Event == nil {
			return nil, errMissingEvent
		}
		r := m.Event.Record()
		f.Type = "event"
		f.Event = &r
	case LogMessage:
		f.Type = "log"
		f.Level = m.Level
		f.Args = m.Args
	case ReadyMessage:
		f.Signal = signalReady
		f.Pid = m.Pid
		f.Addr = m.Addr
	case UnknownMessage:
		if m.Raw != nil {
			return m.Raw, nil
		}
		f.Type = m.Type
	default:
		return nil, fmt.Errorf("cannot encode %T", m)
	}
	return json.Marshal(&f)
}

// DecodeMessage parses one frame.  Frames with an unrecognized type decode
// to UnknownMessage; malformed frames return an error.
func DecodeMessage(b []byte) (Message, error) {
	var f frame
	if e := json.Unmarshal(b, &f); e != nil {
		return nil, fmt.Errorf("decoding message: %w", e)
	}
	if f.Signal == signalReady {
		return ReadyMessage{Pid: f.Pid, Addr: f.Addr}, nil
	}
	switch f.Type {
	case "shutdown":
		return ShutdownMessage{}, nil
	case "event":
		if f.Event == nil {
			return nil, errMissingEvent
		}
		ev, e := FromRecord(*f.Event)
		if e != nil {
			return nil, fmt.Errorf("decoding event: %w", e)
		}
		return EventMessage{Event: ev}, nil
	case "log":
		return LogMessage{Level: f.Level, Args: f.Args}, nil
	}
	raw := make(json.RawMessage, len(b))
	copy(raw, b)
	return UnknownMessage{Type: f.Type, Raw: raw}, nil
}
