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

// Topics on the master's control bus.  Requests published here are
// handled asynchronously, one at a time.
const (
	// TopicRestartRequested carries a PendingRestart.
	TopicRestartRequested = "restart:requested"

	// TopicShutdownRequested carries the reason as a string.  The master
	// does not subscribe to it; the program that owns the master does.
	TopicShutdownRequested = "shutdown:requested"
)

// Names of the lifecycle events the master publishes on its bus.  The
// data is a WorkerInfo, or for EventMasterState the new MasterState.
const (
	EventWorkerSpawn     = "worker:spawn"
	EventWorkerListening = "worker:listening"
	EventWorkerExit      = "worker:exit"
	EventMasterState     = "master:state"
)
