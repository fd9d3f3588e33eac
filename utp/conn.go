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
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrConnClosed is returned by Read/Write after the connection has closed.
var ErrConnClosed = errors.New("utp: connection closed")

// ErrReset is returned when the remote peer aborted the connection with a
// Reset packet.
var ErrReset = errors.New("utp: connection reset by peer")

const initialSeq = 1

// Conn is a single uTP stream: readLoop/writeLoop goroutines, buffered
// channels, atomic close-once, driving BEP 29's packet exchange instead of
// a length-prefixed TCP stream.
type Conn struct {
	socket *Socket
	remote net.Addr

	recvID uint16
	send   uint16 // connection id used on outgoing packets, named to avoid "send" ambiguity with SendWindow.
	initiator bool

	config Config
	clk    clock.Clock
	logger *zap.SugaredLogger

	mu         sync.Mutex // Protects sendWindow, recvWindow, controller, rto, sendDelay.
	sendWindow *SendWindow
	recvWindow *RecvWindow
	controller *Controller
	rto        *RTOEstimator
	sendDelay  uint32
	pendingAck bool

	recvMu  sync.Mutex
	recvBuf bytes.Buffer
	recvSig chan struct{}
	eof     bool
	resetBy error

	writeReqs chan *pendingWrite
	pending   []*pendingWrite

	incoming   chan *Packet
	mtuUpdates chan int

	establishedOnce sync.Once
	establishedc    chan struct{}

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// pendingWrite is an application Write call awaiting packetization. It is
// resolved once every byte has been handed to the send window, not once
// acknowledged.
type pendingWrite struct {
	payload   []byte
	enqueued  time.Time
	result    chan error
}

func newConn(s *Socket, remote net.Addr, recvID, sendID uint16, initiator bool, config Config, clk clock.Clock, logger *zap.SugaredLogger) *Conn {
	c := &Conn{
		socket:       s,
		remote:       remote,
		recvID:       recvID,
		send:         sendID,
		initiator:    initiator,
		config:       config,
		clk:          clk,
		logger:       logger,
		sendWindow:   NewSendWindow(initialSeq, config.InitialWindowSize),
		recvWindow:   NewRecvWindow(0, config.RecvBufferSize),
		controller:   NewController(config.CongestionTarget, config.MaxWindowIncreasePerRTT),
		rto:          NewRTOEstimator(config.InitialRTO),
		recvSig:      make(chan struct{}, 1),
		writeReqs:    make(chan *pendingWrite, 64),
		incoming:     make(chan *Packet, 256),
		mtuUpdates:   make(chan int, 4),
		establishedc: make(chan struct{}),
		closed:       atomic.NewBool(false),
		done:         make(chan struct{}),
	}
	if !initiator {
		// The accept side's baseline send sequence starts past the SYN's
		// implicit seq 1, matching libutp's convention of reserving it.
		c.sendWindow = NewSendWindow(initialSeq+1, config.InitialWindowSize)
		close(c.establishedc)
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

func (c *Conn) sendSyn() error {
	now := c.clk.Now()
	pkt := &Packet{Header: Header{
		Type:       TypeSyn,
		ConnID:     c.recvID,
		Timestamp:  timestampMicros(now),
		WindowSize: c.recvWindow.Size(),
		Seq:        initialSeq,
		Ack:        0,
	}}
	return c.socket.writeTo(Encode(pkt), c.remote)
}

// deliver hands an inbound packet addressed to this connection to its
// actor loop. Called from the Socket's readLoop.
func (c *Conn) deliver(pkt *Packet) {
	select {
	case c.incoming <- pkt:
	case <-c.done:
	}
}

func (c *Conn) run() {
	defer c.wg.Done()

	resendTicker := c.clk.Ticker(200 * time.Millisecond)
	defer resendTicker.Stop()
	ackTicker := c.clk.Ticker(c.config.AckInterval)
	defer ackTicker.Stop()
	idleTimer := c.clk.Timer(c.config.IdleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case <-c.done:
			return
		case pkt := <-c.incoming:
			idleTimer.Reset(c.config.IdleTimeout)
			c.handlePacket(pkt)
			c.drainWrites(false)
		case w := <-c.writeReqs:
			idleTimer.Reset(c.config.IdleTimeout)
			c.pending = append(c.pending, w)
			c.drainWrites(false)
		case <-resendTicker.C:
			c.checkResends()
			c.drainWrites(true)
		case <-ackTicker.C:
			c.flushAck()
		case pathMTU := <-c.mtuUpdates:
			c.handleMTUUpdate(pathMTU)
		case <-idleTimer.C:
			c.logger.Debugw("utp connection idle timeout", "remote", c.remote)
			c.fail(fmt.Errorf("utp: idle timeout"))
			return
		}
	}
}

func (c *Conn) handlePacket(pkt *Packet) {
	now := c.clk.Now()

	c.mu.Lock()
	c.sendDelay = timestampMicros(now) - pkt.Header.Timestamp
	if pkt.Header.TimestampDiff != 0 {
		c.controller.OnPacketReceived(now, pkt.Header.TimestampDiff)
		c.controller.Apply(c.sendWindow, pkt.Header.TimestampDiff)
	}
	if pkt.Header.Type != TypeSyn {
		c.ackUpTo(pkt.Header.Ack, pkt.SelectiveAck)
	}
	c.mu.Unlock()

	c.establishedOnce.Do(func() { close(c.establishedc) })

	switch pkt.Header.Type {
	case TypeData:
		ready, accepted := c.recvWindow.Receive(pkt.Header.Seq, append([]byte(nil), pkt.Payload...))
		if accepted && len(ready) > 0 {
			c.recvMu.Lock()
			c.recvBuf.Write(ready)
			c.recvMu.Unlock()
			c.signalRead()
		}
		c.mu.Lock()
		c.pendingAck = true
		c.mu.Unlock()
	case TypeFin:
		c.recvWindow.MarkEOF(pkt.Header.Seq)
		if c.recvWindow.IsCompleted() {
			c.recvMu.Lock()
			c.eof = true
			c.recvMu.Unlock()
			c.signalRead()
		}
		c.mu.Lock()
		c.pendingAck = true
		c.mu.Unlock()
	case TypeReset:
		c.fail(ErrReset)
	case TypeState, TypeSyn:
		// Pure ack / connection establishment; already processed above.
	}
}

// ackUpTo releases every inflight packet the peer has now acknowledged,
// either cumulatively (seq <= ack) or individually via the selective ack
// bitmap covering ack+2..ack+2+8*len(bitmask).
func (c *Conn) ackUpTo(ack uint16, sack *SelectiveAck) {
	for _, in := range c.sendWindow.Inflights() {
		if !seqLess(ack, in.Seq) {
			c.sendWindow.Ack(in.Seq)
		}
	}
	if sack == nil {
		return
	}
	for i, b := range sack.Bitmask {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) != 0 {
				seq := ack + 2 + uint16(i*8+bit)
				c.sendWindow.Ack(seq)
			}
		}
	}
}

// applyMTUUpdate hands a discovered path MTU to the connection's actor loop,
// non-blocking: a stale update racing a fresher one is fine to drop, since
// the loop will re-derive PacketSize from whichever arrives last.
func (c *Conn) applyMTUUpdate(pathMTU int) {
	select {
	case c.mtuUpdates <- pathMTU:
	case <-c.done:
	default:
	}
}

// handleMTUUpdate shrinks or grows the packet size future sends use to
// ToPacketSize(pathMTU), clamped to the configured minimum.
func (c *Conn) handleMTUUpdate(pathMTU int) {
	size := ToPacketSize(pathMTU)
	if size < minPacketSize {
		size = minPacketSize
	}
	c.mu.Lock()
	c.config.PacketSize = size
	c.mu.Unlock()
	c.logger.Debugw("utp path mtu update", "path_mtu", pathMTU, "packet_size", size, "remote", c.remote)
}

func (c *Conn) checkResends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	for _, in := range c.sendWindow.Inflights() {
		if now.Sub(in.SentAt) < c.rto.Timeout {
			continue
		}
		resent, err := c.sendWindow.Resend(in.Seq, c.config.ResendLimit, now)
		if err != nil {
			c.mu.Unlock()
			c.fail(err)
			c.mu.Lock()
			return
		}
		if resent == nil {
			continue
		}
		c.rto.Backoff()
		pkt := c.newPacket(TypeData, resent.Seq, resent.Payload)
		if err := c.socket.writeTo(Encode(pkt), c.remote); err != nil {
			c.logger.Debugw("utp resend failed", "error", err)
		}
	}
}

func (c *Conn) flushAck() {
	c.mu.Lock()
	pending := c.pendingAck
	c.pendingAck = false
	ack, sack := c.recvWindow.NextAck()
	pkt := c.newStatePacket(ack, sack)
	c.mu.Unlock()

	if !pending {
		return
	}
	if err := c.socket.writeTo(Encode(pkt), c.remote); err != nil {
		c.logger.Debugw("utp ack send failed", "error", err)
	}
}

// drainWrites packetizes as much of the front pending writes as the
// congestion window currently allows. It never blocks: if the window is
// full it returns, to be retried once an ack or the resend ticker's forced
// send frees capacity. This diverges from BEP 29 the same way the original
// implementation does: once a write has waited a full resend cycle without
// making progress, drainWrites forces a minimum-sized packet through
// instead of resetting the window's size limit.
func (c *Conn) drainWrites(allowForce bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.pending) > 0 {
		w := c.pending[0]
		if len(w.payload) == 0 {
			c.pending = c.pending[1:]
			w.result <- nil
			continue
		}

		reserved := c.sendWindow.Reserve(min(c.config.PacketSize-HeaderSize, len(w.payload)))
		payloadSize := reserved
		if reserved == 0 {
			sendTimeout := c.rto.Timeout * time.Duration(1+c.config.ResendLimit)
			if !allowForce || c.clk.Now().Sub(w.enqueued) < sendTimeout {
				return
			}
			payloadSize = min(minPacketSize-HeaderSize, len(w.payload))
		}

		chunk := w.payload[:payloadSize]
		w.payload = w.payload[payloadSize:]
		seq := c.sendWindow.Push(chunk, c.clk.Now())
		pkt := c.newPacket(TypeData, seq, chunk)
		if err := c.socket.writeTo(Encode(pkt), c.remote); err != nil {
			c.pending = c.pending[1:]
			w.result <- err
			continue
		}
		w.enqueued = c.clk.Now()
	}
}

func (c *Conn) newPacket(t PacketType, seq uint16, payload []byte) *Packet {
	return &Packet{
		Header: Header{
			Type:          t,
			ConnID:        c.send,
			Timestamp:     timestampMicros(c.clk.Now()),
			TimestampDiff: c.sendDelay,
			WindowSize:    c.recvWindow.Size(),
			Seq:           seq,
			Ack:           c.recvWindow.LastAck(),
		},
		Payload: payload,
	}
}

func (c *Conn) newStatePacket(ack uint16, sack *SelectiveAck) *Packet {
	return &Packet{
		Header: Header{
			Type:          TypeState,
			ConnID:        c.send,
			Timestamp:     timestampMicros(c.clk.Now()),
			TimestampDiff: c.sendDelay,
			WindowSize:    c.recvWindow.Size(),
			Seq:           c.sendWindow.Seq(),
			Ack:           ack,
		},
		SelectiveAck: sack,
	}
}

func timestampMicros(t time.Time) uint32 { return uint32(t.UnixMicro()) }

// Write blocks until payload has been handed to the connection's send loop
// for packetization. It does not wait for acknowledgement.
func (c *Conn) Write(p []byte) (int, error) {
	select {
	case <-c.establishedc:
	case <-c.done:
		return 0, ErrConnClosed
	}
	w := &pendingWrite{payload: p, enqueued: c.clk.Now(), result: make(chan error, 1)}
	select {
	case c.writeReqs <- w:
	case <-c.done:
		return 0, ErrConnClosed
	}
	select {
	case err := <-w.result:
		if err != nil {
			return 0, err
		}
		return len(p), nil
	case <-c.done:
		return 0, ErrConnClosed
	}
}

func (c *Conn) signalRead() {
	select {
	case c.recvSig <- struct{}{}:
	default:
	}
}

// Read returns in-order application bytes, blocking until at least one byte
// is available, EOF is reached, or the connection closes.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		c.recvMu.Lock()
		if c.recvBuf.Len() > 0 {
			n, _ := c.recvBuf.Read(p)
			c.recvMu.Unlock()
			return n, nil
		}
		if c.resetBy != nil {
			err := c.resetBy
			c.recvMu.Unlock()
			return 0, err
		}
		if c.eof {
			c.recvMu.Unlock()
			return 0, io.EOF
		}
		c.recvMu.Unlock()

		select {
		case <-c.recvSig:
		case <-c.done:
			return 0, ErrConnClosed
		}
	}
}

// fail is called from within the run loop (on Reset receipt or idle
// timeout), so unlike Close it must not wait on wg: the run goroutine that
// calls it has not returned yet.
func (c *Conn) fail(err error) {
	c.recvMu.Lock()
	if c.resetBy == nil {
		c.resetBy = err
	}
	c.recvMu.Unlock()
	c.signalRead()
	c.shutdown(false)
}

// shutdown is idempotent: it sends a closing packet (Finish normally, or
// nothing if the connection already failed) and signals the run loop to
// exit, without waiting for it. sendFin is false when called from fail,
// since the peer that reset us does not need a Finish in response.
func (c *Conn) shutdown(sendFin bool) {
	if !c.closed.CAS(false, true) {
		return
	}
	if sendFin {
		c.mu.Lock()
		c.sendWindow.Close()
		seq := c.sendWindow.NextSeq()
		pkt := c.newPacket(TypeFin, seq, nil)
		c.mu.Unlock()
		_ = c.socket.writeTo(Encode(pkt), c.remote)
	}
	close(c.done)
	c.socket.unregister(c.recvID)
}

// Close sends a Finish packet (if the connection is still healthy) and
// waits for the actor's goroutine to exit.
func (c *Conn) Close() error {
	c.shutdown(true)
	c.wg.Wait()
	return nil
}
