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

// Package prefork runs one logical server as a pool of operating system
// processes: a supervising master, and a number of workers (by default one
// per CPU core) that share a listening socket.
//
// The master starts each worker by re-executing its own binary with the
// worker role selected through the environment, and talks to it over a
// socket pair inherited as file descriptor 3.  Workers announce readiness
// once their listener is bound.  The master replaces workers that crash,
// stops them with escalating signals, and can restart the pool one slot
// at a time so that service is never interrupted.
//
// Every process owns a LocalBus, a synchronous publish/subscribe registry.
// A ClusterBus wraps the LocalBus and mirrors events across the process
// tree, so that an event emitted in any worker is observed by every other
// process without being echoed back to its origin.
//
// A Coordinator watches a source tree and asks the master for rolling
// restarts when files change.
//
// Workers share their listening socket through SO_REUSEPORT, and the IPC
// channel is a Unix socket pair, so only Unix systems are supported.
//
package prefork
