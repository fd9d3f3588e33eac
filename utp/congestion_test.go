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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Controller fixtures use a 100ms target and a 3000-byte per-update clamp;
// the base delay is pinned at 50000us by the first sample, so queuing delay
// in each case is simply sample - 50000.
func newTestController(t *testing.T) *Controller {
	t.Helper()
	c := NewController(100*time.Millisecond, 3000)
	c.OnPacketReceived(time.Now(), 50000)
	return c
}

func TestApplyGrowsWindowWhenBelowTarget(t *testing.T) {
	require := require.New(t)

	c := newTestController(t)
	w := NewSendWindow(0, 10000)
	require.Equal(5000, w.Reserve(5000))

	// Zero queuing delay: off_target = target, delay_factor = 1,
	// window_factor = 5000/10000. Gain = 3000 * 1 * 0.5.
	c.Apply(w, 50000)
	require.Equal(11500, w.SizeLimit())
}

func TestApplyShrinksWindowWhenAboveTarget(t *testing.T) {
	require := require.New(t)

	c := newTestController(t)
	w := NewSendWindow(0, 10000)
	require.Equal(5000, w.Reserve(5000))

	// 200ms queuing delay against a 100ms target: delay_factor = -1.
	c.Apply(w, 250000)
	require.Equal(8500, w.SizeLimit())
}

func TestApplyClampsGain(t *testing.T) {
	require := require.New(t)

	c := newTestController(t)
	w := NewSendWindow(0, 10000)
	require.Equal(10000, w.Reserve(10000))

	// 400ms queuing delay: delay_factor = -3, window_factor = 1, so the
	// raw gain of -9000 is clamped to -3000.
	c.Apply(w, 450000)
	require.Equal(7000, w.SizeLimit())
}

func TestApplySkipsEmptyWindow(t *testing.T) {
	require := require.New(t)

	c := newTestController(t)
	w := NewSendWindow(0, 10000)

	c.Apply(w, 250000)
	require.Equal(10000, w.SizeLimit())
}

func TestRTOEstimatorFirstSample(t *testing.T) {
	require := require.New(t)

	e := NewRTOEstimator(time.Second)
	require.Equal(time.Second, e.Timeout)

	// srtt = 200ms, rttvar = 100ms, timeout = srtt + 4*rttvar.
	e.Sample(200 * time.Millisecond)
	require.Equal(600*time.Millisecond, e.Timeout)
}

func TestRTOEstimatorFloor(t *testing.T) {
	e := NewRTOEstimator(time.Second)
	e.Sample(time.Millisecond)
	require.Equal(t, 500*time.Millisecond, e.Timeout)
}

func TestRTOEstimatorBackoff(t *testing.T) {
	require := require.New(t)

	e := NewRTOEstimator(time.Second)
	e.Backoff()
	require.Equal(2*time.Second, e.Timeout)

	// Backoff saturates at one minute.
	for i := 0; i < 10; i++ {
		e.Backoff()
	}
	require.Equal(time.Minute, e.Timeout)
}
