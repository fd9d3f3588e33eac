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
package utp

import (
	"math"
	"time"
)

// Controller implements the LEDBAT-style congestion control algorithm
// specified by BEP 29: it tracks one-way queuing delay through a delayWindow
// and adjusts a SendWindow's size limit to steer that delay toward target.
type Controller struct {
	delay  *delayWindow
	target time.Duration
	// maxWindowIncreasePerRTT bounds how many bytes the window may grow (or
	// shrink) in a single update, mirroring libutp's gain clamp, which BEP 29
	// itself leaves unspecified.
	maxWindowIncreasePerRTT int
}

// NewController creates a congestion controller with the given target
// queuing delay and per-update window change clamp.
func NewController(target time.Duration, maxWindowIncreasePerRTT int) *Controller {
	return &Controller{
		delay:                   newDelayWindow(120 * time.Second),
		target:                  target,
		maxWindowIncreasePerRTT: maxWindowIncreasePerRTT,
	}
}

// OnPacketReceived records the one-way send delay carried by an incoming
// packet's header (header.TimestampDiff, already computed by the caller as
// recvTime - header.Timestamp). A zero delay is ignored: BEP 29 reserves it
// to mean "freshly opened socket, no measurement yet".
func (c *Controller) OnPacketReceived(now time.Time, sendDelay uint32) {
	if sendDelay != 0 {
		c.delay.push(now, sendDelay)
	}
}

// Apply adjusts w's size limit in response to the most recent send delay
// sample, following BEP 29's congestion control formula.
func (c *Controller) Apply(w *SendWindow, sendDelay uint32) {
	if w.Used() == 0 {
		return
	}
	used := float64(w.Used())
	limit := float64(w.SizeLimit())
	var windowFactor float64
	if used < limit {
		windowFactor = used / limit
	} else {
		windowFactor = limit / used
	}

	target := float64(c.target.Microseconds() % (1 << 32))
	offTarget := target - float64(c.delay.subtractMinDelay(sendDelay))
	delayFactor := offTarget / target

	gainLimit := float64(c.maxWindowIncreasePerRTT)
	scaleGain := gainLimit * delayFactor * windowFactor
	if scaleGain > gainLimit {
		scaleGain = gainLimit
	} else if scaleGain < -gainLimit {
		scaleGain = -gainLimit
	}

	newLimit := w.SizeLimit() + int(math.Trunc(scaleGain))
	w.SetSizeLimit(newLimit)
}

// RTOEstimator computes a retransmission timeout from smoothed RTT samples,
// following the classic TCP (Jacobson/Karels) estimator.
type RTOEstimator struct {
	srtt    time.Duration
	rttvar  time.Duration
	hasInit bool
	Timeout time.Duration
}

// NewRTOEstimator creates an estimator seeded with an initial timeout to
// use before any RTT sample has been observed.
func NewRTOEstimator(initial time.Duration) *RTOEstimator {
	return &RTOEstimator{Timeout: initial}
}

// Sample folds a newly measured round-trip time into the estimator and
// recomputes Timeout.
func (e *RTOEstimator) Sample(rtt time.Duration) {
	if !e.hasInit {
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.hasInit = true
	} else {
		delta := rtt - e.srtt
		if delta < 0 {
			delta = -delta
		}
		e.rttvar = e.rttvar + (delta-e.rttvar)/4
		e.srtt = e.srtt + (rtt-e.srtt)/8
	}
	e.Timeout = e.srtt + 4*e.rttvar
	if e.Timeout < 500*time.Millisecond {
		e.Timeout = 500 * time.Millisecond
	}
}

// Backoff doubles Timeout after a retransmission, per standard RTO
// exponential backoff.
func (e *RTOEstimator) Backoff() {
	e.Timeout *= 2
	if e.Timeout > time.Minute {
		e.Timeout = time.Minute
	}
}
