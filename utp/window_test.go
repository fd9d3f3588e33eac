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

func TestSendWindowReserveAndAck(t *testing.T) {
	w := NewSendWindow(2000, 200)
	now := time.Unix(0, 0)

	require.Equal(t, 130, w.Reserve(130))
	seq := w.Push(make([]byte, 130), now)
	require.Equal(t, uint16(2000), seq)
	require.Equal(t, 130, w.Used())

	require.Equal(t, 70, w.Reserve(130))
	seq2 := w.Push(make([]byte, 70), now)
	require.Equal(t, uint16(2001), seq2)
	require.Equal(t, 200, w.Used())

	require.Equal(t, 0, w.Reserve(1))

	w.Ack(seq)
	require.Equal(t, 70, w.Used())
	require.Equal(t, 130, w.Reserve(130))
}

func TestSendWindowResendLimit(t *testing.T) {
	w := NewSendWindow(0, 1000)
	now := time.Unix(0, 0)
	seq := w.Push([]byte("x"), now)

	for i := 0; i < 3; i++ {
		_, err := w.Resend(seq, 3, now)
		require.NoError(t, err)
	}
	_, err := w.Resend(seq, 3, now)
	require.ErrorIs(t, err, ErrResendLimitExceeded)
}

func TestRecvWindowInOrderDelivery(t *testing.T) {
	w := NewRecvWindow(0, 1<<16)

	ready, ok := w.Receive(1, []byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("a"), ready)
	require.Equal(t, uint16(1), w.LastAck())

	ack, sack := w.NextAck()
	require.Equal(t, uint16(1), ack)
	require.Nil(t, sack)
}

func TestRecvWindowOutOfOrderReassembly(t *testing.T) {
	w := NewRecvWindow(0, 1<<16)

	ready, ok := w.Receive(3, []byte("c"))
	require.True(t, ok)
	require.Empty(t, ready)

	ack, sack := w.NextAck()
	require.Equal(t, uint16(0), ack)
	require.NotNil(t, sack)
	require.Equal(t, byte(0x02), sack.Bitmask[0]) // bit 1 (seq 3 = lastAck+2+1).

	ready, ok = w.Receive(1, []byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("a"), ready)

	ready, ok = w.Receive(2, []byte("b"))
	require.True(t, ok)
	require.Equal(t, []byte("bc"), ready)
	require.Equal(t, uint16(3), w.LastAck())
}

func TestRecvWindowFinCompletion(t *testing.T) {
	w := NewRecvWindow(0, 1<<16)
	_, ok := w.Receive(1, []byte("a"))
	require.True(t, ok)

	w.MarkEOF(1)
	require.True(t, w.IsCompleted())
}
