// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package timeutil

import (
	"sync"
	"time"
)

// Timer is a re-armable wrapper around time.Timer whose Start and Cancel
// are both idempotent: a Start while already running, or a Cancel while
// not running (including after it has already fired), is a no-op that
// reports failure rather than panicking or double-firing.
type Timer struct {
	d   time.Duration
	C   chan time.Time
	mu  sync.Mutex
	t   *time.Timer
	on  bool
}

// NewTimer creates a Timer that, once Started, fires after d.
func NewTimer(d time.Duration) *Timer {
	return &Timer{
		d: d,
		C: make(chan time.Time, 1),
	}
}

// Start arms the timer. Returns false if it is already running.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.on {
		return false
	}
	t.on = true
	t.t = time.AfterFunc(t.d, func() {
		t.mu.Lock()
		t.on = false
		t.mu.Unlock()
		select {
		case t.C <- time.Now():
		default:
		}
	})
	return true
}

// Cancel stops the timer before it fires. Returns false if it was not
// running (either never started, or already fired).
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.on {
		return false
	}
	stopped := t.t.Stop()
	t.on = false
	return stopped
}
