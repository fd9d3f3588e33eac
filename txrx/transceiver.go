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
	"fmt"
	"net"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torrentd/peerstack/core"
	"github.com/torrentd/peerstack/layout"
	"github.com/torrentd/peerstack/peeractor"
	"github.com/torrentd/peerstack/scheduler"
	"github.com/torrentd/peerstack/utils/bandwidth"
	"github.com/torrentd/peerstack/wire"
)

// Storage is the slice of storage.Torrent the Transceiver depends on:
// scheduler.Storage's write/verify plus the reads needed to serve peer
// requests and the bitfield/completion queries needed to drive possession
// broadcast and the Complete coarse update. storage.Torrent satisfies
// this directly.
type Storage interface {
	scheduler.Storage
	InfoHash() core.InfoHash
	NumPieces() int
	Bitfield() *bitset.BitSet
	Complete() bool
	Read(r layout.BlockRange, buf []byte) error
}

type peerEntry struct {
	actor  *peeractor.Actor
	closed chan struct{}
}

// Transceiver is the top-level per-torrent coordinator: it owns the storage handle and the set of peer actors, drives the
// scheduler from peer events, and publishes coarse Start/Idle/
// Download/Complete/Stop updates. A peer actor error closes only that peer, while a storage error stops
// the whole torrent.
type Transceiver struct {
	config     Config
	peerConfig peeractor.Config

	infoHash core.InfoHash
	storage  Storage
	sched    *scheduler.Scheduler
	bw       *bandwidth.Limiter
	listener StatusListener

	clk    clock.Clock
	logger *zap.SugaredLogger

	// peers maps core.PeerID to *peerEntry.
	peers sync.Map

	// actions serializes every scheduler/listener mutation onto this
	// goroutine's run loop, the same single-owner-goroutine shape as
	// peeractor.Actor and dhtagent.Agent.
	actions chan func()

	idleMu sync.Mutex
	idle   bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Transceiver for a single torrent and starts its run loop.
// listener may be nil, in which case coarse updates are discarded.
func New(
	config Config,
	peerConfig peeractor.Config,
	st Storage,
	sched *scheduler.Scheduler,
	bw *bandwidth.Limiter,
	listener StatusListener,
	clk clock.Clock,
	logger *zap.SugaredLogger,
) *Transceiver {
	config = config.applyDefaults()
	if listener == nil {
		listener = NopStatusListener{}
	}
	t := &Transceiver{
		config:     config,
		peerConfig: peerConfig,
		infoHash:   st.InfoHash(),
		storage:    st,
		sched:      sched,
		bw:         bw,
		listener:   listener,
		clk:        clk,
		logger:     logger,
		actions:    make(chan func(), 256),
		done:       make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	listener.OnStart()
	return t
}

func (t *Transceiver) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "hash", t.infoHash)
	return t.logger.With(keysAndValues...)
}

// AddPeer wraps an already-handshaken connection in a peeractor.Actor,
// registers it with the scheduler and feeds it the torrent's current
// bitfield.
func (t *Transceiver) AddPeer(
	nc net.Conn,
	peerID core.PeerID,
	features wire.Features,
	idMap *wire.IDMap,
) (*peeractor.Actor, error) {
	a := peeractor.New(
		nc, peerID, t.infoHash, features, t.storage.NumPieces(),
		idMap, t.bw, t, t.peerConfig, t.clk, t.logger)

	entry := &peerEntry{actor: a, closed: make(chan struct{})}
	if _, loaded := t.peers.LoadOrStore(peerID, entry); loaded {
		a.Cancel()
		return nil, fmt.Errorf("txrx: peer %s is already connected", peerID)
	}

	t.sched.AddPeer(peerID, bitset.New(uint(t.storage.NumPieces())), false)
	if err := a.Possess(t.storage.Bitfield()); err != nil {
		t.log("remote_peer", peerID).Warnf("send initial bitfield: %s", err)
	}
	return a, nil
}

// Stop cancels every peer actor, waits up to ShutdownGracePeriod for each
// to finish draining, then stops the run loop and reports OnStop.
func (t *Transceiver) Stop() {
	t.stopOnce.Do(func() {
		var g errgroup.Group
		t.peers.Range(func(_, v interface{}) bool {
			entry := v.(*peerEntry)
			entry.actor.Cancel()
			g.Go(func() error {
				select {
				case <-entry.closed:
				case <-t.clk.After(t.config.ShutdownGracePeriod):
				}
				return nil
			})
			return true
		})
		g.Wait()
		close(t.done)
		t.wg.Wait()
		t.listener.OnStop()
	})
}

func (t *Transceiver) enqueue(fn func()) {
	select {
	case t.actions <- fn:
	case <-t.done:
	}
}

func (t *Transceiver) run() {
	defer t.wg.Done()
	tick := t.clk.Tick(t.config.TickInterval)
	for {
		select {
		case <-t.done:
			return
		case fn := <-t.actions:
			fn()
		case <-tick:
			t.onTick()
		}
	}
}

func (t *Transceiver) onTick() {
	t.sched.Tick()
	t.peers.Range(func(_, v interface{}) bool {
		entry := v.(*peerEntry)
		if entry.actor.Idle() {
			t.log().Infof("cancelling idle peer %s", entry.actor.PeerID())
			entry.actor.Cancel()
			return true
		}
		entry.actor.ExpireOutgoing()
		return true
	})
	t.refreshIdle()
}

// pump requests up to PipelineLimit not-yet-requested blocks from a's
// currently assigned pieces.
func (t *Transceiver) pump(a *peeractor.Actor) {
	for _, b := range t.sched.NextBlocks(a.PeerID(), t.config.PipelineLimit) {
		ch, err := a.Request(b)
		if err != nil {
			// Full outgoing queue or a closing actor; the scheduler will
			// re-offer these blocks once assignments change again.
			return
		}
		if ch == nil {
			continue // Already outstanding to this peer.
		}
		block := b
		go t.awaitResult(a, block, ch)
	}
}

func (t *Transceiver) awaitResult(a *peeractor.Actor, block layout.BlockRange, ch <-chan peeractor.Result) {
	res := <-ch
	t.enqueue(func() { t.handleOutcome(a, block, res) })
}

func (t *Transceiver) handleOutcome(a *peeractor.Actor, block layout.BlockRange, res peeractor.Result) {
	if res.Err != nil {
		if res.Err != peeractor.ErrCancelled {
			t.sched.OnBlockError(a.PeerID(), block)
		}
		return
	}

	result, err := t.sched.OnBlockReceived(a.PeerID(), block, res.Data)
	if err != nil {
		// Storage I/O errors are fatal to the torrent.
		t.log().Errorf("fatal storage error, stopping transceiver: %s", err)
		go t.Stop()
		return
	}

	if result.PieceCompleted && result.Verified {
		t.listener.OnDownload(result.PieceIndex)
		t.broadcastHave(result.PieceIndex, a.PeerID())
		if t.storage.Complete() {
			t.listener.OnComplete()
		}
	}

	for _, c := range result.Cancel {
		if v, ok := t.peers.Load(c.PeerID); ok {
			v.(*peerEntry).actor.CancelRequest(c.Block)
		}
	}
	for _, p := range t.sched.TakeUpdated() {
		if v, ok := t.peers.Load(p); ok {
			t.pump(v.(*peerEntry).actor)
		}
	}
	t.refreshIdle()
}

func (t *Transceiver) broadcastHave(piece int, except core.PeerID) {
	t.peers.Range(func(k, v interface{}) bool {
		peerID := k.(core.PeerID)
		if peerID == except {
			return true
		}
		if err := v.(*peerEntry).actor.PossessHave(piece); err != nil {
			t.log("remote_peer", peerID).Debugf("announce have(%d): %s", piece, err)
		}
		return true
	})
}

func (t *Transceiver) refreshIdle() {
	idle := t.sched.Idle()
	t.idleMu.Lock()
	changed := idle != t.idle
	t.idle = idle
	t.idleMu.Unlock()
	if changed {
		t.listener.OnIdle(idle)
	}
}

func (t *Transceiver) serveIncoming(a *peeractor.Actor, req peeractor.IncomingRequest) {
	buf := make([]byte, req.Block.Size)
	if err := t.storage.Read(req.Block, buf); err != nil {
		t.log("remote_peer", a.PeerID()).Warnf("serving request %s: %s", req.Block, err)
		req.Reject()
		return
	}
	req.Serve(buf)
}

// --- peeractor.Events ---

func (t *Transceiver) OnPossession(a *peeractor.Actor, have *bitset.BitSet) {
	t.enqueue(func() {
		t.sched.UpdatePossession(a.PeerID(), have)
		t.pump(a)
	})
}

func (t *Transceiver) OnStateChange(a *peeractor.Actor) {
	t.enqueue(func() {
		unchoked := !a.PeerChoking()
		t.sched.SetUnchoked(a.PeerID(), unchoked)
		if unchoked {
			t.pump(a)
		}
	})
}

func (t *Transceiver) OnIncomingRequest(a *peeractor.Actor, req peeractor.IncomingRequest) {
	go t.serveIncoming(a, req)
}

func (t *Transceiver) OnSuggest(a *peeractor.Actor, piece int) {
	t.log("remote_peer", a.PeerID()).Debugf("peer suggested piece %d", piece)
}

func (t *Transceiver) OnAllowedFast(a *peeractor.Actor, piece int) {
	t.log("remote_peer", a.PeerID()).Debugf("peer allowed fast piece %d", piece)
}

func (t *Transceiver) OnExtension(a *peeractor.Actor, name string, payload []byte) {
	t.log("remote_peer", a.PeerID()).Debugf("peer sent extension %q (%d bytes)", name, len(payload))
}

func (t *Transceiver) OnPort(a *peeractor.Actor, port uint16) {
	t.log("remote_peer", a.PeerID()).Debugf("peer advertised dht port %d", port)
}

func (t *Transceiver) OnClosed(a *peeractor.Actor, err error) {
	if err != nil {
		t.log("remote_peer", a.PeerID()).Infof("peer connection closed: %s", err)
	}
	t.enqueue(func() {
		t.sched.RemovePeer(a.PeerID())
		if v, ok := t.peers.Load(a.PeerID()); ok {
			close(v.(*peerEntry).closed)
		}
		t.peers.Delete(a.PeerID())
		t.refreshIdle()
	})
}
