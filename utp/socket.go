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
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/torrentd/peerstack/utils/errutil"
)

// udpReadBufferSize bounds a single incoming datagram. uTP packets are kept
// well under typical path MTUs (see mtu.go), so this is generous headroom.
const udpReadBufferSize = 64 * 1024

// ErrSocketClosed is returned by Socket operations after Close.
var ErrSocketClosed = errors.New("utp: socket closed")

// Socket multiplexes many uTP connections over a single UDP PacketConn,
// dispatching inbound datagrams to the Conn registered for their receive
// connection id and surfacing unmatched SYNs through Accept.
//
// A single readLoop goroutine demultiplexes inbound packets; buffered
// channels and a WaitGroup handle shutdown.
type Socket struct {
	pc     net.PacketConn
	config Config
	clk    clock.Clock
	logger *zap.SugaredLogger

	mu    sync.Mutex
	conns map[uint16]*Conn

	acceptc chan *Conn
	closec  chan struct{}
	closed  bool
	wg      sync.WaitGroup

	mtuProber *MTUProber
}

// NewSocket wraps pc, starting the background read loop that demultiplexes
// inbound datagrams to registered connections.
func NewSocket(pc net.PacketConn, config Config, logger *zap.SugaredLogger) *Socket {
	config.applyDefaults()
	s := &Socket{
		pc:      pc,
		config:  config,
		clk:     clock.New(),
		logger:  logger,
		conns:   make(map[uint16]*Conn),
		acceptc: make(chan *Conn, 64),
		closec:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// LocalAddr returns the underlying UDP address.
func (s *Socket) LocalAddr() net.Addr { return s.pc.LocalAddr() }

// EnableMTUProbing wires a path-MTU prober into the socket: every Conn it
// dials or accepts is probed once established, and discovered MTUs are fed
// back to the matching Conn over its MTU update channel. Takes ownership of
// prober; the socket closes it on Close.
func (s *Socket) EnableMTUProbing(prober *MTUProber) {
	s.mtuProber = prober
	s.wg.Add(1)
	go s.mtuUpdateLoop(prober)
}

func (s *Socket) mtuUpdateLoop(prober *MTUProber) {
	defer s.wg.Done()
	for {
		select {
		case <-s.closec:
			return
		case update, ok := <-prober.Updates:
			if !ok {
				return
			}
			s.notifyMTU(update)
		}
	}
}

// notifyMTU hands a discovered path MTU to every Conn whose remote endpoint
// matches update.Remote.
func (s *Socket) notifyMTU(update MTUUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		if udpAddr, ok := c.remote.(*net.UDPAddr); ok && udpAddr.String() == update.Remote.String() {
			c.applyMTUUpdate(update.PathMTU)
		}
	}
}

// Close stops the read loop and closes the underlying PacketConn.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closec)
	var errs []error
	if err := s.pc.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.mtuProber != nil {
		if err := s.mtuProber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()
	return errutil.Join(errs)
}

func (s *Socket) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, udpReadBufferSize)
	for {
		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.closec:
				return
			default:
				s.logger.Errorw("utp socket read error", "error", err)
				return
			}
		}
		pkt, err := Decode(append([]byte(nil), buf[:n]...))
		if err != nil {
			s.logger.Debugw("dropping malformed utp packet", "error", err, "from", addr)
			continue
		}
		s.dispatch(pkt, addr)
	}
}

func (s *Socket) dispatch(pkt *Packet, addr net.Addr) {
	s.mu.Lock()
	conn, ok := s.conns[pkt.Header.ConnID]
	s.mu.Unlock()

	if ok {
		conn.deliver(pkt)
		return
	}
	if pkt.Header.Type != TypeSyn {
		s.logger.Debugw("dropping packet for unknown connection", "conn_id", pkt.Header.ConnID)
		return
	}

	recvID := pkt.Header.ConnID + 1
	c := newConn(s, addr, recvID, pkt.Header.ConnID, false, s.config, s.clk, s.logger)
	s.mu.Lock()
	s.conns[recvID] = c
	s.mu.Unlock()
	c.deliver(pkt)
	s.probeMTU(addr)

	select {
	case s.acceptc <- c:
	default:
		s.logger.Warnw("utp accept queue full, dropping inbound connection", "remote", addr)
		c.Close()
		s.unregister(recvID)
	}
}

// Accept blocks until an inbound connection has completed its SYN
// handshake, or the socket is closed.
func (s *Socket) Accept() (*Conn, error) {
	c, ok := <-s.acceptc
	if !ok {
		return nil, ErrSocketClosed
	}
	return c, nil
}

// Dial opens a new uTP connection to addr. Per BEP 29, the initiator
// generates the receive connection id and derives send = recv + 1; the SYN
// packet itself is the only packet addressed with the receive id.
func (s *Socket) Dial(addr net.Addr) (*Conn, error) {
	recvID := uint16(rand.Intn(1 << 16))

	s.mu.Lock()
	for {
		if _, taken := s.conns[recvID]; !taken {
			break
		}
		recvID++
	}
	sendID := recvID + 1
	c := newConn(s, addr, recvID, sendID, true, s.config, s.clk, s.logger)
	s.conns[recvID] = c
	s.mu.Unlock()

	if err := c.sendSyn(); err != nil {
		s.unregister(recvID)
		return nil, fmt.Errorf("utp: send syn: %w", err)
	}
	s.probeMTU(addr)
	return c, nil
}

// probeMTU kicks off a path MTU probe for addr if MTU probing is enabled.
// IPv6 endpoints and non-UDP addresses are silently skipped; IPv6
// probing is an unimplemented extension point.
func (s *Socket) probeMTU(addr net.Addr) {
	if s.mtuProber == nil {
		return
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return
	}
	s.mtuProber.Probe(udpAddr)
}

func (s *Socket) unregister(recvID uint16) {
	s.mu.Lock()
	delete(s.conns, recvID)
	s.mu.Unlock()
}

func (s *Socket) writeTo(b []byte, addr net.Addr) error {
	_, err := s.pc.WriteTo(b, addr)
	return err
}
