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

// Package syncutil provides small concurrency primitives layered on top
// of go.uber.org/atomic, used by the scheduler to track per-piece and
// per-peer counters touched from many goroutines.
package syncutil

import "go.uber.org/atomic"

// Counters is a fixed-size slice of independently lockable int counters.
type Counters struct {
	counters []*atomic.Int64
}

// NewCounters creates n counters, all initialized to 0.
func NewCounters(n int) *Counters {
	cs := make([]*atomic.Int64, n)
	for i := range cs {
		cs[i] = atomic.NewInt64(0)
	}
	return &Counters{counters: cs}
}

// Len returns the number of counters.
func (c *Counters) Len() int {
	return len(c.counters)
}

// Get returns the value of counter i.
func (c *Counters) Get(i int) int {
	return int(c.counters[i].Load())
}

// Set sets counter i to v.
func (c *Counters) Set(i int, v int) {
	c.counters[i].Store(int64(v))
}

// Increment adds 1 to counter i.
func (c *Counters) Increment(i int) {
	c.counters[i].Inc()
}

// Decrement subtracts 1 from counter i.
func (c *Counters) Decrement(i int) {
	c.counters[i].Dec()
}
