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
package txrx

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/torrentd/peerstack/core"
	"github.com/torrentd/peerstack/layout"
	"github.com/torrentd/peerstack/peeractor"
	"github.com/torrentd/peerstack/scheduler"
	"github.com/torrentd/peerstack/utils/bandwidth"
	"github.com/torrentd/peerstack/wire"
)

// memStorage is an in-memory Storage: a single byte buffer addressed by
// layout, with pieces considered valid once every byte is nonzero.
type memStorage struct {
	mu       sync.Mutex
	hash     core.InfoHash
	l        *layout.Layout
	data     []byte
	complete *bitset.BitSet
}

func newMemStorage(t *testing.T, l *layout.Layout, initiallyComplete bool) *memStorage {
	t.Helper()
	hash, err := core.NewInfoHashFromHex("0102030405060708090a0b0c0d0e0f1011121314")
	require.NoError(t, err)
	s := &memStorage{
		hash:     hash,
		l:        l,
		data:     make([]byte, l.Size()),
		complete: bitset.New(uint(l.NumPieces())),
	}
	if initiallyComplete {
		for i := 0; i < l.NumPieces(); i++ {
			s.complete.Set(uint(i))
		}
		for i := range s.data {
			s.data[i] = byte(i + 1)
		}
	}
	return s
}

func (s *memStorage) InfoHash() core.InfoHash { return s.hash }
func (s *memStorage) NumPieces() int          { return s.l.NumPieces() }

func (s *memStorage) Bitfield() *bitset.BitSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete.Clone()
}

func (s *memStorage) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.complete.Count()) == s.l.NumPieces()
}

func (s *memStorage) Read(r layout.BlockRange, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := s.l.GlobalOffset(r)
	copy(buf, s.data[off:off+r.Size])
	return nil
}

func (s *memStorage) Write(r layout.BlockRange, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := s.l.GlobalOffset(r)
	copy(s.data[off:off+r.Size], buf)
	return nil
}

func (s *memStorage) Verify(i int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := s.l.PieceLen(i)
	off := s.l.GlobalOffset(layout.BlockRange{Piece: i, Offset: 0, Size: want})
	for _, b := range s.data[off : off+want] {
		if b == 0 {
			return false, nil
		}
	}
	s.complete.Set(uint(i))
	return true, nil
}

type capturingListener struct {
	mu         sync.Mutex
	downloaded []int
	complete   chan struct{}
	completeOnce sync.Once
}

func newCapturingListener() *capturingListener {
	return &capturingListener{complete: make(chan struct{})}
}

func (l *capturingListener) OnStart()       {}
func (l *capturingListener) OnIdle(bool)    {}
func (l *capturingListener) OnDownload(piece int) {
	l.mu.Lock()
	l.downloaded = append(l.downloaded, piece)
	l.mu.Unlock()
}
func (l *capturingListener) OnComplete() { l.completeOnce.Do(func() { close(l.complete) }) }
func (l *capturingListener) OnStop()     {}

// TestDownloadFromSeederCompletesTorrent wires a seeder's Transceiver to a
// leecher's Transceiver over net.Pipe and confirms the leecher's single
// missing piece arrives, verifies, and drives the Complete coarse update.
func TestDownloadFromSeederCompletesTorrent(t *testing.T) {
	l, err := layout.New(8, 8, 4)
	require.NoError(t, err)

	seederStorage := newMemStorage(t, l, true)
	leecherStorage := newMemStorage(t, l, false)

	clk := clock.New()
	logger := zap.NewNop().Sugar()
	bw, err := bandwidth.NewLimiter(bandwidth.Config{})
	require.NoError(t, err)

	seederSched, err := scheduler.NewScheduler(scheduler.Config{DisableEndgame: true}, l, seederStorage.Bitfield(), seederStorage, clk, logger)
	require.NoError(t, err)
	leecherSched, err := scheduler.NewScheduler(scheduler.Config{DisableEndgame: true}, l, leecherStorage.Bitfield(), leecherStorage, clk, logger)
	require.NoError(t, err)

	listener := newCapturingListener()

	seederTx := New(Config{}, peeractor.Config{}, seederStorage, seederSched, bw, NopStatusListener{}, clk, logger)
	leecherTx := New(Config{}, peeractor.Config{}, leecherStorage, leecherSched, bw, listener, clk, logger)
	t.Cleanup(seederTx.Stop)
	t.Cleanup(leecherTx.Stop)

	c1, c2 := net.Pipe()
	seederPeerID, err := core.RandomPeerID()
	require.NoError(t, err)
	leecherPeerID, err := core.RandomPeerID()
	require.NoError(t, err)

	seederActor, err := seederTx.AddPeer(c1, leecherPeerID, wire.Features{}, wire.NewIDMap(nil))
	require.NoError(t, err)
	leecherActor, err := leecherTx.AddPeer(c2, seederPeerID, wire.Features{}, wire.NewIDMap(nil))
	require.NoError(t, err)

	// The leecher only requests once the seeder has unchoked it and has
	// pieces it lacks; drive both sides of state by hand since there is no
	// full handshake/choke algorithm under test.
	require.NoError(t, seederActor.SetSelfChoking(false))
	require.NoError(t, leecherActor.SetSelfInterested(true))

	select {
	case <-listener.complete:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for torrent completion")
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.Equal(t, []int{0}, listener.downloaded)
}
