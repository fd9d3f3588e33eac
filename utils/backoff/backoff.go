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

// Package backoff implements exponential backoff with an overall retry
// timeout, used by the DHT agent and scheduler when retrying transient
// network failures (dial errors, request timeouts, failed handshakes).
package backoff

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures a Backoff.
type Config struct {
	// Min is the wait before the second attempt.
	Min time.Duration `yaml:"min"`
	// Max caps the wait before any attempt.
	Max time.Duration `yaml:"max"`
	// Factor is the exponential growth factor applied to Min between
	// attempts.
	Factor float64 `yaml:"factor"`
	// NoJitter disables randomizing the wait, for deterministic tests.
	NoJitter bool `yaml:"-"`
	// RetryTimeout bounds the total time spent waiting across all
	// attempts. The first attempt always runs regardless of RetryTimeout.
	RetryTimeout time.Duration `yaml:"retry_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.Factor == 0 {
		c.Factor = 2
	}
	if c.Max == 0 {
		c.Max = c.Min
	}
	return c
}

// ErrRetryTimeout is returned by Attempts.Err after WaitForNext refuses a
// further attempt because RetryTimeout has been exhausted.
var ErrRetryTimeout = errors.New("backoff: retry timeout exceeded")

// Backoff is a reusable exponential backoff policy.
type Backoff struct {
	config Config
}

// New creates a Backoff from config.
func New(config Config) *Backoff {
	return &Backoff{config: config.applyDefaults()}
}

// baseWait returns the un-jittered backoff for attempt k, used both to
// gate against RetryTimeout and as the ceiling jitter is applied within.
func (b *Backoff) baseWait(k int) time.Duration {
	d := float64(b.config.Min) * math.Pow(b.config.Factor, float64(k))
	if d > float64(b.config.Max) {
		d = float64(b.config.Max)
	}
	return time.Duration(d)
}

func (b *Backoff) jitter(d time.Duration) time.Duration {
	if b.config.NoJitter || d <= 0 {
		return d
	}
	return time.Duration(rand.Float64() * float64(d))
}

// Attempts starts a new attempt sequence, timed from now.
func (b *Backoff) Attempts() *Attempts {
	return &Attempts{b: b, first: true}
}

// Attempts drives a single bounded sequence of retries: call WaitForNext
// in a loop; it sleeps the appropriate backoff before returning true, and
// returns false once RetryTimeout would be exceeded, at which point Err
// reports why.
type Attempts struct {
	b       *Backoff
	first   bool
	k       int
	elapsed time.Duration
	err     error
}

// WaitForNext blocks for the next backoff interval (none, on the first
// call) and reports whether another attempt should be made.
func (a *Attempts) WaitForNext() bool {
	if a.first {
		a.first = false
		return true
	}
	base := a.b.baseWait(a.k)
	a.k++
	if a.elapsed+base > a.b.config.RetryTimeout {
		a.err = ErrRetryTimeout
		return false
	}
	time.Sleep(a.b.jitter(base))
	a.elapsed += base
	return true
}

// Err returns the reason WaitForNext most recently returned false, or nil
// if it hasn't yet.
func (a *Attempts) Err() error {
	return a.err
}
