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
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gdamore/prefork"
)

// LogInfo is a copy of the master's log, with the etag it was served
// under.
type LogInfo struct {
	etag    string
	Records []prefork.LogRecord
}

type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, e := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if e != nil {
		return nil, e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	return req, nil
}

func readError(res *http.Response) error {
	e := &Error{}
	body, _ := io.ReadAll(res.Body)
	if json.Unmarshal(body, e) != nil || e.Message == "" {
		e.Message = res.Status
	}
	e.Code = res.StatusCode
	return e
}

// poll issues an HTTP GET against the path, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, path string, etag string, wait int, v interface{}) (string, error) {
	req, e := c.newRequest(ctx, "GET", path)
	if e != nil {
		return "", e
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}
	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", readError(res)
	}
	if e := json.NewDecoder(res.Body).Decode(v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) post(ctx context.Context, path string) (*Accepted, error) {
	req, e := c.newRequest(ctx, "POST", path)
	if e != nil {
		return nil, e
	}
	res, e := c.client.Do(req)
	if e != nil {
		return nil, e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted && res.StatusCode != http.StatusOK {
		return nil, readError(res)
	}
	acc := &Accepted{}
	if e := json.NewDecoder(res.Body).Decode(acc); e != nil {
		return nil, e
	}
	return acc, nil
}

// Status asks the master for its status, host statistics included.
func (c *Client) Status(ctx context.Context) (*prefork.Status, error) {
	st := &prefork.Status{}
	if _, e := c.poll(ctx, "/status", "", 0, st); e != nil {
		return nil, e
	}
	return st, nil
}

func (c *Client) Workers(ctx context.Context) ([]prefork.WorkerInfo, error) {
	var infos []prefork.WorkerInfo
	if _, e := c.poll(ctx, "/workers", "", 0, &infos); e != nil {
		return nil, e
	}
	return infos, nil
}

func (c *Client) Worker(ctx context.Context, id int) (*prefork.WorkerInfo, error) {
	info := &prefork.WorkerInfo{}
	if _, e := c.poll(ctx, "/workers/"+strconv.Itoa(id), "", 0, info); e != nil {
		return nil, e
	}
	return info, nil
}

// Restart requests a rolling restart of every worker.
func (c *Client) Restart(ctx context.Context) (*Accepted, error) {
	return c.post(ctx, "/restart")
}

func (c *Client) RestartWorker(ctx context.Context, id int) (*Accepted, error) {
	return c.post(ctx, "/workers/"+strconv.Itoa(id)+"/restart")
}

func logPath(source string) string {
	if source == "" {
		return "/log"
	}
	return "/log?source=" + url.QueryEscape(source)
}

func (c *Client) pollLog(ctx context.Context, source string, secs int, last *LogInfo) (*LogInfo, error) {
	otag := ""
	if last == nil {
		secs = 0
	} else {
		otag = last.etag
	}
	v := &LogInfo{}
	etag, e := c.poll(ctx, logPath(source), otag, secs, &v.Records)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return last, nil
	}
	v.etag = etag
	return v, nil
}

// GetLog returns the log, restricted to one source if source is not
// empty.
func (c *Client) GetLog(ctx context.Context, source string) (*LogInfo, error) {
	return c.pollLog(ctx, source, 0, nil)
}

// WatchLog waits for the log to differ from last, for up to five minutes,
// and returns it.  If nothing changed, last is returned.
func (c *Client) WatchLog(ctx context.Context, source string, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, source, MaxPollTime, last)
}

// Events streams bus events to fn until ctx is done or the connection
// fails.
func (c *Client) Events(ctx context.Context, fn func(EventRecord)) error {
	u, e := url.Parse(c.base + "/events")
	if e != nil {
		return e
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	hdr := http.Header{}
	if c.auth {
		req := &http.Request{Header: hdr}
		req.SetBasicAuth(c.user, c.pass)
	}
	conn, res, e := websocket.DefaultDialer.DialContext(ctx, u.String(), hdr)
	if e != nil {
		if res != nil && res.StatusCode != http.StatusSwitchingProtocols {
			defer res.Body.Close()
			return readError(res)
		}
		return e
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		var rec EventRecord
		if e := conn.ReadJSON(&rec); e != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return e
		}
		fn(rec)
	}
}

// NewClient returns a Client handle.  The transport may be nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t http.RoundTripper, baseURI string) *Client {
	if t == nil {
		t = http.DefaultTransport
	}
	return &Client{
		base:   strings.TrimSuffix(baseURI, "/"),
		client: &http.Client{Transport: t},
	}
}
