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
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Channel is one end of the IPC link between master and worker.  Frames
// are newline delimited JSON.  Send and Recv may be used from different
// goroutines; concurrent senders are serialized.
type Channel struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	closed int32
	once   sync.Once
	wmx    sync.Mutex
}

// DecodeError is returned by Recv for a frame that could not be decoded.
// The channel remains usable.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bad frame %q: %v", e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func NewChannel(rwc io.ReadWriteCloser) *Channel {
	return &Channel{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// Send writes one message.  It returns ErrChannelClosed once the channel
// has been closed or a write has failed.
func (c *Channel) Send(m Message) error {
	if !c.Connected() {
		return ErrChannelClosed
	}
	b, e := EncodeMessage(m)
	if e != nil {
		return e
	}
	b = append(b, '\n')
	c.wmx.Lock()
	_, e = c.rwc.Write(b)
	c.wmx.Unlock()
	if e != nil {
		c.Close()
		return fmt.Errorf("%w: %v", ErrChannelClosed, e)
	}
	return nil
}

// Recv blocks for the next message.  Once the stream ends (io.EOF) or
// fails, the channel is marked disconnected.
func (c *Channel) Recv() (Message, error) {
	for {
		line, e := c.reader.ReadBytes('\n')
		if b := bytes.TrimSpace(line); len(b) != 0 {
			m, de := DecodeMessage(b)
			if de != nil {
				return nil, &DecodeError{Frame: b, Err: de}
			}
			return m, nil
		}
		if e != nil {
			c.Close()
			return nil, e
		}
	}
}

// Connected reports whether the channel is still usable.
func (c *Channel) Connected() bool {
	return atomic.LoadInt32(&c.closed) == 0
}

func (c *Channel) Close() error {
	var e error
	c.once.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		e = c.rwc.Close()
	})
	return e
}
