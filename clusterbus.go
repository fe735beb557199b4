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
	"log"
	"sort"
	"sync"
)

// Peer is a process on the other end of an IPC channel.
type Peer interface {
	ID() int
	Send(Message) error
}

// ClusterBus mirrors a LocalBus across processes.  Locally published
// events are sent to every peer; events received from a peer are
// published locally and forwarded to every other peer, never back to the
// sender.
type ClusterBus struct {
	local  *LocalBus
	peers  map[int]Peer
	tag    bool
	logger *log.Logger
	mx     sync.Mutex
}

// NewClusterBus wraps the local bus.  When tagOrigin is set (the master
// does this) inbound events have the sender's ID recorded in meta "id".
func NewClusterBus(local *LocalBus, tagOrigin bool, logger *log.Logger) *ClusterBus {
	if logger == nil {
		logger = local.logger
	}
	return &ClusterBus{
		local:  local,
		peers:  make(map[int]Peer),
		tag:    tagOrigin,
		logger: logger,
	}
}

func (b *ClusterBus) Local() *LocalBus {
	return b.local
}

func (b *ClusterBus) AddPeer(p Peer) {
	b.mx.Lock()
	b.peers[p.ID()] = p
	b.mx.Unlock()
}

func (b *ClusterBus) RemovePeer(id int) {
	b.mx.Lock()
	delete(b.peers, id)
	b.mx.Unlock()
}

func (b *ClusterBus) snapshot() []Peer {
	b.mx.Lock()
	peers := make([]Peer, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	b.mx.Unlock()
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID() < peers[j].ID()
	})
	return peers
}

func (b *ClusterBus) broadcast(ev *Event, from Peer) {
	for _, p := range b.snapshot() {
		if from != nil && p.ID() == from.ID() {
			continue
		}
		if e := p.Send(EventMessage{Event: ev}); e != nil {
			b.logger.Printf("Dropped %s for peer %d: %v",
				ev.Name(), p.ID(), e)
		}
	}
}

// Publish delivers the event locally and sends it to every peer.
func (b *ClusterBus) Publish(ev *Event) {
	b.local.Publish(ev)
	b.broadcast(ev, nil)
}

// Emit publishes an event of KindEvent.
func (b *ClusterBus) Emit(name string, data ...interface{}) {
	ev, _ := NewEvent(name, KindEvent, nil, data...)
	b.Publish(ev)
}

// Deliver handles an event that arrived from a peer.
func (b *ClusterBus) Deliver(from Peer, ev *Event) {
	if b.tag && from != nil {
		ev = ev.WithMeta("id", from.ID())
	}
	b.local.Publish(ev)
	b.broadcast(ev, from)
}

func (b *ClusterBus) On(name string, fn Listener) *Subscription {
	return b.local.Subscribe(name, fn)
}

func (b *ClusterBus) Once(name string, fn Listener) *Subscription {
	return b.local.SubscribeOnce(name, fn)
}

func (b *ClusterBus) OnAll(fn WildcardListener) *Subscription {
	return b.local.SubscribeAll(fn)
}

func (b *ClusterBus) Off(s *Subscription) {
	b.local.Unsubscribe(s)
}
