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
	"time"
)

// rateLimiter throttles crash recovery of a single slot.  If the slot has
// been started limit times within period, further starts are refused
// until the period has passed since the oldest of them.  Once tripped, the
// limiter also requires the cool down of the start before that, halving
// the effective rate for a slot that keeps failing.
type rateLimiter struct {
	limit  int
	period time.Duration
	starts int
	times  []time.Time
	tilted bool
}

func newRateLimiter(limit int, period time.Duration) *rateLimiter {
	r := &rateLimiter{limit: limit, period: period}
	if limit > 0 {
		r.times = make([]time.Time, limit)
	}
	return r
}

func (r *rateLimiter) record(now time.Time) {
	if r.limit > 0 {
		r.times[r.starts%r.limit] = now
	}
	r.starts++
}

// tooQuickly returns ErrRateLimited, and how long to wait, if another
// start now would exceed the limit.
func (r *rateLimiter) tooQuickly(now time.Time) (time.Duration, error) {
	if r.limit == 0 || r.starts < r.limit {
		return 0, nil
	}

	// The oldest start in the window is the one we are about to
	// overwrite.
	end := r.times[r.starts%r.limit].Add(r.period)
	if now.Before(end) {
		r.tilted = true
		return end.Sub(now), ErrRateLimited
	}
	if !r.tilted {
		return 0, nil
	}

	// Cool down from a prior trip.
	end = r.times[(r.starts+1)%r.limit].Add(r.period)
	if r.limit > 1 && now.Before(end) {
		return end.Sub(now), ErrRateLimited
	}
	r.tilted = false
	return 0, nil
}
