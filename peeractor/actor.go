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
package peeractor

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/torrentd/peerstack/core"
	"github.com/torrentd/peerstack/layout"
	"github.com/torrentd/peerstack/utils/bandwidth"
	"github.com/torrentd/peerstack/utils/timeutil"
	"github.com/torrentd/peerstack/wire"
)

// Events is the downward notification surface an Actor drives: possession
// updates, Fast-extension hints, inbound requests for bytes we own, and
// the terminal close, all of which the scheduler/transceiver consume to
// drive assignment and shutdown bookkeeping.
type Events interface {
	// OnPossession is called whenever the peer's bitfield changes, passing
	// the full bitfield as currently known (merged from Bitfield, Have,
	// HaveAll, HaveNone).
	OnPossession(a *Actor, have *bitset.BitSet)
	// OnStateChange is called whenever one of the peer's connection-state
	// booleans (peer_choking, peer_interested) changes.
	OnStateChange(a *Actor)
	// OnIncomingRequest is called when the peer requests a block from us.
	OnIncomingRequest(a *Actor, req IncomingRequest)
	// OnSuggest and OnAllowedFast surface Fast-extension hints.
	OnSuggest(a *Actor, piece int)
	OnAllowedFast(a *Actor, piece int)
	// OnExtension surfaces a decoded Extended message by resolved name.
	OnExtension(a *Actor, name string, payload []byte)
	// OnPort surfaces a peer's advertised DHT port.
	OnPort(a *Actor, port uint16)
	// OnClosed is called exactly once, when the actor's loop exits for any
	// reason (err is nil on a clean Cancel).
	OnClosed(a *Actor, err error)
}

// state holds the four connection-state booleans, initial
// (true, false, true, false).
type state struct {
	mu              sync.RWMutex
	selfChoking     bool
	selfInterested  bool
	peerChoking     bool
	peerInterested  bool
}

func newState() *state {
	return &state{selfChoking: true, peerChoking: true}
}

// Actor owns one peer's wire stream: its socket, its incoming/outgoing
// request queues, its connection-state cells and its extension id map.
type Actor struct {
	peerID   core.PeerID
	infoHash core.InfoHash
	features wire.Features
	numPieces int

	nc     net.Conn
	config Config
	clk    clock.Clock
	bw     *bandwidth.Limiter
	events Events
	idMap  *wire.IDMap
	logger *zap.SugaredLogger

	state *state

	have *syncedBitfield

	mu       sync.Mutex // Protects outgoing, incoming.
	outgoing *outgoingQueue
	incoming *incomingQueue

	sender chan *wire.Message

	lastRead  *atomic.Int64
	lastWrite *atomic.Int64

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates an Actor around an already-handshaken connection nc and
// starts its read and write loops. numPieces sizes the possession
// bitfield.
func New(
	nc net.Conn,
	peerID core.PeerID,
	infoHash core.InfoHash,
	features wire.Features,
	numPieces int,
	idMap *wire.IDMap,
	bw *bandwidth.Limiter,
	events Events,
	config Config,
	clk clock.Clock,
	logger *zap.SugaredLogger,
) *Actor {
	config = config.applyDefaults()
	a := &Actor{
		peerID:    peerID,
		infoHash:  infoHash,
		features:  features,
		numPieces: numPieces,
		nc:        nc,
		config:    config,
		clk:       clk,
		bw:        bw,
		events:    events,
		idMap:     idMap,
		logger:    logger,
		state:     newState(),
		have:      newSyncedBitfield(numPieces),
		outgoing:  newOutgoingQueue(int64(config.OutgoingByteLimit)),
		incoming:  newIncomingQueue(int64(config.IncomingByteLimit)),
		sender:    make(chan *wire.Message, config.SendBufferSize),
		lastRead:  atomic.NewInt64(clk.Now().UnixNano()),
		lastWrite: atomic.NewInt64(clk.Now().UnixNano()),
		closed:    atomic.NewBool(false),
		done:      make(chan struct{}),
	}
	a.wg.Add(2)
	go a.readLoop()
	go a.writeLoop()
	return a
}

// PeerID returns the remote peer's id.
func (a *Actor) PeerID() core.PeerID { return a.peerID }

// InfoHash returns the torrent this connection belongs to.
func (a *Actor) InfoHash() core.InfoHash { return a.infoHash }

func (a *Actor) String() string {
	return fmt.Sprintf("peeractor(peer=%s, hash=%s)", a.peerID, a.infoHash)
}

func (a *Actor) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "remote_peer", a.peerID, "hash", a.infoHash)
	return a.logger.With(keysAndValues...)
}

// Have returns a snapshot of the peer's known possession bitfield.
func (a *Actor) Have() *bitset.BitSet { return a.have.snapshot() }

// --- Connection-state setters/getters ---

// SelfChoking reports whether the local side is choking the peer.
func (a *Actor) SelfChoking() bool {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	return a.state.selfChoking
}

// SelfInterested reports whether the local side is interested in the peer.
func (a *Actor) SelfInterested() bool {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	return a.state.selfInterested
}

// PeerChoking reports whether the peer is choking the local side.
func (a *Actor) PeerChoking() bool {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	return a.state.peerChoking
}

// PeerInterested reports whether the peer is interested in the local side.
func (a *Actor) PeerInterested() bool {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	return a.state.peerInterested
}

// SetSelfChoking sends Choke or Unchoke and updates the local cell.
func (a *Actor) SetSelfChoking(choking bool) error {
	a.state.mu.Lock()
	changed := a.state.selfChoking != choking
	a.state.selfChoking = choking
	a.state.mu.Unlock()
	if !changed {
		return nil
	}
	id := wire.Unchoke
	if choking {
		id = wire.Choke
	}
	return a.send(&wire.Message{ID: id})
}

// SetSelfInterested sends Interested or NotInterested and updates the
// local cell.
func (a *Actor) SetSelfInterested(interested bool) error {
	a.state.mu.Lock()
	changed := a.state.selfInterested != interested
	a.state.selfInterested = interested
	a.state.mu.Unlock()
	if !changed {
		return nil
	}
	id := wire.NotInterested
	if interested {
		id = wire.Interested
	}
	return a.send(&wire.Message{ID: id})
}

// --- Upper-half operations ---

// Possess sends a possession update to the peer: Bitfield, HaveAll or
// HaveNone. Single-piece Have updates go through PossessHave.
func (a *Actor) Possess(bits *bitset.BitSet) error {
	if bits == nil {
		return a.send(&wire.Message{ID: wire.HaveNone})
	}
	count := int(bits.Count())
	switch {
	case a.features.Fast && count == a.numPieces && a.numPieces > 0:
		return a.send(&wire.Message{ID: wire.HaveAll})
	case a.features.Fast && count == 0:
		return a.send(&wire.Message{ID: wire.HaveNone})
	default:
		return a.send(wire.NewBitfield(wire.PackBitfield(bits, a.numPieces)))
	}
}

// PossessHave sends a single Have update for piece i.
func (a *Actor) PossessHave(i int) error {
	return a.send(wire.NewHave(i))
}

// Request enqueues an outgoing request for r. It returns (nil, nil) if r
// is already outstanding to this peer (duplicate), (nil, ErrFull) if the
// outgoing byte cap is reached, else a channel receiving exactly one
// Result once the block arrives, times out, or the actor closes.
func (a *Actor) Request(r layout.BlockRange) (<-chan Result, error) {
	a.mu.Lock()
	ch, err := a.outgoing.add(r, a.clk.Now())
	a.mu.Unlock()
	if err != nil || ch == nil {
		return nil, err
	}
	if err := a.send(wire.NewRequest(r)); err != nil {
		a.mu.Lock()
		a.outgoing.remove(r, err)
		a.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// CancelRequest sends Cancel for a previously issued Request and fails it
// locally with ErrCancelled.
func (a *Actor) CancelRequest(r layout.BlockRange) {
	a.mu.Lock()
	a.outgoing.remove(r, ErrCancelled)
	a.mu.Unlock()
	_ = a.send(wire.NewCancel(r))
}

// SendPort sends a DHT Port message, refusing if the DHT feature was not
// advertised locally.
func (a *Actor) SendPort(port uint16) error {
	if !a.features.DHT {
		return wire.ErrIncompatible
	}
	return a.send(&wire.Message{ID: wire.Port, DHTPort: port})
}

// SendExtension sends a BEP 10 Extended message under the peer's mapped id
// for name, refusing if either side did not advertise the Extension
// feature or the peer has not assigned name an id.
func (a *Actor) SendExtension(name string, payload []byte) error {
	if !a.features.Extension {
		return wire.ErrIncompatible
	}
	id, ok := a.idMap.PeerID(name)
	if !ok {
		return fmt.Errorf("peeractor: peer has not assigned an id to extension %q", name)
	}
	return a.send(&wire.Message{ID: wire.Extended, ExtensionID: id, ExtPayload: payload})
}

// Cancel aborts the actor: outstanding requests fail with ErrCancelled,
// the send queue is flushed best-effort within CloseGracePeriod, and the
// socket is closed.
func (a *Actor) Cancel() {
	if !a.closed.CAS(false, true) {
		return
	}
	go func() {
		grace := a.clk.After(a.config.CloseGracePeriod)
		flushed := make(chan struct{})
		go func() {
			for len(a.sender) > 0 {
				time.Sleep(time.Millisecond)
			}
			close(flushed)
		}()
		select {
		case <-flushed:
		case <-grace:
		}
		close(a.done)
		a.nc.Close()
		a.wg.Wait()
		a.mu.Lock()
		a.outgoing.drain(ErrCancelled)
		a.mu.Unlock()
		a.events.OnClosed(a, nil)
	}()
}

// IsClosed reports whether the actor has begun or finished shutdown.
func (a *Actor) IsClosed() bool { return a.closed.Load() }

// LastActive returns the time of the most recent message read from or
// written to the peer.
func (a *Actor) LastActive() time.Time {
	return timeutil.MostRecent(
		time.Unix(0, a.lastRead.Load()),
		time.Unix(0, a.lastWrite.Load()),
	)
}

// Idle reports whether the connection has carried no traffic in either
// direction for at least IdleTimeout. The owning transceiver cancels idle
// actors on its periodic tick.
func (a *Actor) Idle() bool {
	return a.clk.Now().Sub(a.LastActive()) >= a.config.IdleTimeout
}

func (a *Actor) send(m *wire.Message) error {
	select {
	case <-a.done:
		return ErrCancelled
	case a.sender <- m:
		return nil
	default:
		return ErrFull
	}
}

func (a *Actor) writeLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case m := <-a.sender:
			if m.ID == wire.Piece {
				if err := a.bw.ReserveEgress(int64(len(m.PieceData))); err != nil {
					a.log().Errorf("reserve egress bandwidth: %s", err)
				}
			}
			if err := wire.Encode(a.nc, m); err != nil {
				a.log().Infof("write loop exiting: %s", err)
				a.closeWithErr(err)
				return
			}
			a.lastWrite.Store(a.clk.Now().UnixNano())
		}
	}
}

func (a *Actor) readLoop() {
	defer a.wg.Done()
	for {
		m, err := wire.Decode(a.nc)
		if err != nil {
			a.log().Infof("read loop exiting: %s", err)
			a.closeWithErr(err)
			return
		}
		a.lastRead.Store(a.clk.Now().UnixNano())
		if m.IsKeepAlive() {
			continue
		}
		if err := wire.CheckFeature(m, a.features, a.features); err != nil {
			a.log().Warnf("dropping connection for incompatible message %s: %s", m.ID, err)
			a.closeWithErr(err)
			return
		}
		if err := a.handle(m); err != nil {
			a.log().Warnf("protocol error handling %s: %s", m.ID, err)
			a.closeWithErr(err)
			return
		}
		select {
		case <-a.done:
			return
		default:
		}
	}
}

// closeWithErr triggers the same shutdown Cancel does, but reports err to
// Events.OnClosed instead of nil, and does not wait on itself (it may be
// called from within the loops Cancel's goroutine waits on).
func (a *Actor) closeWithErr(err error) {
	if !a.closed.CAS(false, true) {
		return
	}
	close(a.done)
	go func() {
		a.nc.Close()
		a.wg.Wait()
		a.mu.Lock()
		a.outgoing.drain(err)
		a.mu.Unlock()
		a.events.OnClosed(a, err)
	}()
}

func (a *Actor) handle(m *wire.Message) error {
	switch m.ID {
	case wire.Choke, wire.Unchoke:
		a.state.mu.Lock()
		a.state.peerChoking = m.ID == wire.Choke
		a.state.mu.Unlock()
		a.events.OnStateChange(a)
	case wire.Interested, wire.NotInterested:
		a.state.mu.Lock()
		a.state.peerInterested = m.ID == wire.Interested
		a.state.mu.Unlock()
		a.events.OnStateChange(a)
	case wire.Have:
		a.have.set(m.PieceIndex)
		a.events.OnPossession(a, a.have.snapshot())
	case wire.Bitfield:
		bits, err := wire.UnpackBitfield(m.BitfieldBytes, a.numPieces)
		if err != nil {
			return err
		}
		a.have.replace(bits)
		a.events.OnPossession(a, a.have.snapshot())
	case wire.HaveAll:
		a.have.setAll()
		a.events.OnPossession(a, a.have.snapshot())
	case wire.HaveNone:
		a.have.clear()
		a.events.OnPossession(a, a.have.snapshot())
	case wire.Request:
		return a.handleIncomingRequest(blockRange(m.Block))
	case wire.Cancel:
		a.mu.Lock()
		a.incoming.remove(blockRange(m.Block))
		a.mu.Unlock()
	case wire.Piece:
		r := blockRange(m.Block)
		a.mu.Lock()
		found := a.outgoing.resolve(r, m.PieceData)
		a.mu.Unlock()
		if !found {
			a.log().Debugf("received unrequested piece %s, dropping", r)
		}
	case wire.Reject:
		a.mu.Lock()
		a.outgoing.remove(blockRange(m.Block), fmt.Errorf("peeractor: rejected by peer"))
		a.mu.Unlock()
	case wire.Suggest:
		a.events.OnSuggest(a, m.PieceIndex)
	case wire.AllowedFast:
		a.events.OnAllowedFast(a, m.PieceIndex)
	case wire.Port:
		a.events.OnPort(a, m.DHTPort)
	case wire.Extended:
		name, _ := a.idMap.LocalName(m.ExtensionID)
		if m.ExtensionID == wire.ExtensionHandshakeID {
			hs, err := wire.DecodeExtensionHandshake(m.ExtPayload)
			if err != nil {
				return err
			}
			a.idMap.UpdatePeer(hs.M)
			name = "handshake"
		}
		a.events.OnExtension(a, name, m.ExtPayload)
	default:
		return fmt.Errorf("peeractor: unexpected message id %s", m.ID)
	}
	return nil
}

// blockRange converts a decoded wire.BlockInfo to the layout.BlockRange key
// used throughout the scheduler and the request queues.
func blockRange(b wire.BlockInfo) layout.BlockRange {
	return layout.BlockRange{Piece: b.Index, Offset: b.Offset, Size: b.Length}
}

func (a *Actor) handleIncomingRequest(block layout.BlockRange) error {
	a.mu.Lock()
	admitted := a.incoming.admit(block, a.clk.Now())
	a.mu.Unlock()
	if !admitted {
		return a.send(wire.NewReject(block))
	}
	req := IncomingRequest{
		Block:      block,
		acceptedAt: a.clk.Now(),
		serve: func(data []byte) {
			a.mu.Lock()
			a.incoming.remove(block)
			a.mu.Unlock()
			_ = a.send(wire.NewPiece(block.Piece, block.Offset, data))
		},
		reject: func() {
			a.mu.Lock()
			a.incoming.remove(block)
			a.mu.Unlock()
			_ = a.send(wire.NewReject(block))
		},
	}
	a.events.OnIncomingRequest(a, req)
	return nil
}

// ExpireOutgoing fails every outgoing request older than RequestTimeout
// and auto-rejects every incoming request older than
// IncomingRequestTimeout. Intended to be driven by the owning
// txrx.Transceiver on a periodic tick.
func (a *Actor) ExpireOutgoing() {
	now := a.clk.Now()
	a.mu.Lock()
	a.outgoing.expireOlderThan(now, a.config.RequestTimeout)
	expired := a.incoming.expired(now, a.config.IncomingRequestTimeout)
	a.mu.Unlock()
	for _, r := range expired {
		a.mu.Lock()
		a.incoming.remove(r)
		a.mu.Unlock()
		_ = a.send(wire.NewReject(r))
	}
}
