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

// Package rest exposes a running master over HTTP, and provides a client
// for it.
package rest

import (
	"strconv"
	"strings"

	"github.com/gdamore/prefork"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader and PollTimeHeader ask the server to hold a GET
	// until the resource no longer matches the etag, or the number of
	// seconds passes.
	PollEtagHeader = "X-Prefork-Poll-Etag"
	PollTimeHeader = "X-Prefork-Poll-Time"

	// MaxPollTime caps PollTimeHeader.
	MaxPollTime = 300
)

// Accepted is the body of the reply to a restart request.  The restart
// itself happens asynchronously.
type Accepted struct {
	Scope    prefork.Scope `json:"scope"`
	WorkerID int           `json:"worker,omitempty"`
}

// EventRecord is one event, as streamed by /events.
type EventRecord = prefork.Record

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func formatEtag(id int64) string {
	return `"` + strconv.FormatInt(id, 16) + `"`
}

func parseEtag(tag string) (int64, bool) {
	tag = strings.TrimPrefix(tag, "W/")
	tag = strings.Trim(tag, `"`)
	id, e := strconv.ParseInt(tag, 16, 64)
	return id, e == nil
}
