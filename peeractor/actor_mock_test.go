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

// This file exercises peeractor.Events through a gomock fake rather than
// the hand-rolled recordingEvents used elsewhere in this package's tests:
// channel-recording suits assertions that must survive the actor's own
// goroutine, gomock's call-expectation style suits assertions that only
// care an event fired, regardless of ordering against other peer traffic.
package peeractor_test

import (
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/torrentd/peerstack/core"
	"github.com/torrentd/peerstack/peeractor"
	"github.com/torrentd/peerstack/utils/bandwidth"
	"github.com/torrentd/peerstack/wire"

	"github.com/torrentd/peerstack/mocks/peeractor/mockevents"
)

func TestSendPortDeliveredViaMock(t *testing.T) {
	ctrl := gomock.NewController(t)

	c1, c2 := net.Pipe()
	p1, err := core.RandomPeerID()
	require.NoError(t, err)
	p2, err := core.RandomPeerID()
	require.NoError(t, err)
	hash, err := core.NewInfoHashFromHex("0102030405060708090a0b0c0d0e0f1011121314")
	require.NoError(t, err)

	bw, err := bandwidth.NewLimiter(bandwidth.Config{})
	require.NoError(t, err)
	clk := clock.New()
	logger := zap.NewNop().Sugar()

	ev1 := mockevents.NewMockEvents(ctrl)
	ev2 := mockevents.NewMockEvents(ctrl)

	portc := make(chan uint16, 1)
	ev2.EXPECT().OnPort(gomock.Any(), gomock.Any()).Do(func(_ *peeractor.Actor, port uint16) {
		portc <- port
	}).Times(1)
	ev1.EXPECT().OnClosed(gomock.Any(), gomock.Any()).AnyTimes()
	ev2.EXPECT().OnClosed(gomock.Any(), gomock.Any()).AnyTimes()

	idMap1 := wire.NewIDMap(nil)
	idMap2 := wire.NewIDMap(nil)

	a1 := peeractor.New(c1, p2, hash, wire.Features{DHT: true}, 4, idMap1, bw, ev1, peeractor.Config{}, clk, logger)
	a2 := peeractor.New(c2, p1, hash, wire.Features{DHT: true}, 4, idMap2, bw, ev2, peeractor.Config{}, clk, logger)
	defer a1.Cancel()
	defer a2.Cancel()

	require.NoError(t, a1.SendPort(6881))

	select {
	case port := <-portc:
		require.EqualValues(t, 6881, port)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for port")
	}
}
