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
	"log"
	"os"
	"sync"
	"sync/atomic"
)

// Wildcard is the name of the channel that receives every event.
const Wildcard = "*"

// Listener receives events published under one name.
type Listener func(meta Meta, data ...interface{})

// WildcardListener receives every published event.
type WildcardListener func(name string, meta Meta, data ...interface{})

// ListenerError is delivered on a Subscription's error channel when its
// listener panics.
type ListenerError struct {
	Name  string
	Value interface{}
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener for %q panicked: %v", e.Name, e.Value)
}

const (
	subActive int32 = iota
	subRemoved
)

// Subscription is returned by the subscribe methods, and is the handle
// used to unsubscribe.  Registering the same function twice yields two
// distinct subscriptions, and the function is called twice.
type Subscription struct {
	name  string
	fn    Listener
	all   WildcardListener
	once  bool
	state int32
	errs  chan error
	bus   *LocalBus
}

// Name returns the event name, or "*" for wildcard subscriptions.
func (s *Subscription) Name() string {
	return s.name
}

// Errors returns the channel on which listener failures are reported.
// The channel is buffered; failures are dropped if nobody reads it.
func (s *Subscription) Errors() <-chan error {
	return s.errs
}

func (s *Subscription) Unsubscribe() {
	s.bus.Unsubscribe(s)
}

// LocalBus is an in-process publish/subscribe registry.  Delivery is
// synchronous, and listeners are called without any bus lock held, so
// they are free to publish or subscribe.
type LocalBus struct {
	subs   map[string][]*Subscription
	wild   []*Subscription
	logger *log.Logger
	mx     sync.Mutex
}

func NewLocalBus(logger *log.Logger) *LocalBus {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &LocalBus{
		subs:   make(map[string][]*Subscription),
		logger: logger,
	}
}

func (b *LocalBus) lock() {
	b.mx.Lock()
}

func (b *LocalBus) unlock() {
	b.mx.Unlock()
}

func (b *LocalBus) add(s *Subscription) *Subscription {
	s.bus = b
	s.errs = make(chan error, 8)
	b.lock()
	if s.all != nil {
		b.wild = append(b.wild, s)
	} else {
		b.subs[s.name] = append(b.subs[s.name], s)
	}
	b.unlock()
	return s
}

func newSubscription(name string, fn Listener, once bool) *Subscription {
	s := &Subscription{name: name, fn: fn, once: once}
	if name == Wildcard {
		s.all = func(_ string, meta Meta, data ...interface{}) {
			fn(meta, data...)
		}
	}
	return s
}

// Subscribe registers a listener for the name.  Subscribing to Wildcard
// is the same as SubscribeAll, without the event name.
func (b *LocalBus) Subscribe(name string, fn Listener) *Subscription {
	return b.add(newSubscription(name, fn, false))
}

// SubscribeOnce registers a listener that is removed as it is delivered
// its first event.  Concurrent publishers can never deliver twice.
func (b *LocalBus) SubscribeOnce(name string, fn Listener) *Subscription {
	return b.add(newSubscription(name, fn, true))
}

// SubscribeAll registers a listener on the wildcard channel.
func (b *LocalBus) SubscribeAll(fn WildcardListener) *Subscription {
	return b.add(&Subscription{name: Wildcard, all: fn})
}

func removeSub(list []*Subscription, s *Subscription) []*Subscription {
	for i, x := range list {
		if x == s {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func (b *LocalBus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	atomic.StoreInt32(&s.state, subRemoved)
	b.remove(s)
}

func (b *LocalBus) remove(s *Subscription) {
	b.lock()
	if s.all != nil {
		b.wild = removeSub(b.wild, s)
	} else if list := removeSub(b.subs[s.name], s); len(list) == 0 {
		delete(b.subs, s.name)
	} else {
		b.subs[s.name] = list
	}
	b.unlock()
}

// Len returns the number of listeners registered for the name.
func (b *LocalBus) Len(name string) int {
	b.lock()
	defer b.unlock()
	if name == Wildcard {
		return len(b.wild)
	}
	return len(b.subs[name])
}

// Publish delivers the event to every wildcard listener, and then to
// every listener registered for its name, each in registration order.
func (b *LocalBus) Publish(ev *Event) {
	b.lock()
	wild := append([]*Subscription{}, b.wild...)
	subs := append([]*Subscription{}, b.subs[ev.name]...)
	b.unlock()

	for _, s := range wild {
		b.deliver(s, ev)
	}
	for _, s := range subs {
		b.deliver(s, ev)
	}
}

func (b *LocalBus) deliver(s *Subscription, ev *Event) {
	if s.once {
		if !atomic.CompareAndSwapInt32(&s.state, subActive, subRemoved) {
			return
		}
		b.remove(s)
	} else if atomic.LoadInt32(&s.state) != subActive {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e := &ListenerError{Name: ev.name, Value: r}
			b.logger.Printf("Event %s: %v", ev.Describe(), e)
			select {
			case s.errs <- e:
			default:
			}
		}
	}()
	if s.all != nil {
		s.all(ev.name, ev.Meta(), ev.Data()...)
	} else {
		s.fn(ev.Meta(), ev.Data()...)
	}
}
