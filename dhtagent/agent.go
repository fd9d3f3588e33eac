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
package dhtagent

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/torrentd/peerstack/bcodec"
	"github.com/torrentd/peerstack/core"
	"github.com/torrentd/peerstack/routing"
	"github.com/torrentd/peerstack/token"
)

// ErrNoResponse is returned by Query when no matching response or error
// arrives before QueryTimeout elapses.
var ErrNoResponse = errors.New("dhtagent: no response")

// ErrAgentClosed is returned by Query after Close.
var ErrAgentClosed = errors.New("dhtagent: agent closed")

const udpReadBufferSize = 64 * 1024

type txKey struct {
	addr string
	tx   string
}

type pendingQuery struct {
	result chan *Message
}

type announcedPeer struct {
	addr    *net.UDPAddr
	expires time.Time
}

// Agent is the DHT's UDP reactor: it sends and answers KRPC queries, keeps
// the routing table current, and serves announce_peer state for torrents
// this node has observed. A single read loop serves a UDP socket's
// request/response traffic instead of a length-prefixed TCP stream.
type Agent struct {
	pc      net.PacketConn
	localID core.NodeID
	table   *routing.Table
	tokens  *token.Source
	config  Config
	clk     clock.Clock
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	pending map[txKey]*pendingQuery

	peersMu sync.Mutex
	peers   map[core.InfoHash][]announcedPeer

	refresher *NodeRefresher

	sem chan struct{}

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates an Agent listening on pc, and starts its read loop and
// periodic stale-bucket refresh scan.
func New(pc net.PacketConn, localID core.NodeID, table *routing.Table, tokens *token.Source, config Config, clk clock.Clock, logger *zap.SugaredLogger) *Agent {
	config = config.applyDefaults()
	a := &Agent{
		pc:      pc,
		localID: localID,
		table:   table,
		tokens:  tokens,
		config:  config,
		clk:     clk,
		logger:  logger,
		pending: make(map[txKey]*pendingQuery),
		peers:   make(map[core.InfoHash][]announcedPeer),
		sem:     make(chan struct{}, config.HandlerConcurrency),
		closed:  atomic.NewBool(false),
		done:    make(chan struct{}),
	}
	a.refresher = newNodeRefresher(a, table, config.Alpha, config.PingBackoff, clk, logger)

	a.wg.Add(2)
	go a.readLoop()
	go a.refreshLoop()
	return a
}

// LocalAddr returns the agent's UDP listening address.
func (a *Agent) LocalAddr() net.Addr { return a.pc.LocalAddr() }

// Close stops the agent's background loops and closes its socket.
func (a *Agent) Close() error {
	if !a.closed.CAS(false, true) {
		return nil
	}
	close(a.done)
	err := a.pc.Close()
	a.wg.Wait()

	a.mu.Lock()
	for k, p := range a.pending {
		close(p.result)
		delete(a.pending, k)
	}
	a.mu.Unlock()
	return err
}

func (a *Agent) readLoop() {
	defer a.wg.Done()
	buf := make([]byte, udpReadBufferSize)
	for {
		n, addr, err := a.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-a.done:
				return
			default:
				a.logger.Errorw("dhtagent read error", "error", err)
				return
			}
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		m, err := Decode(append([]byte(nil), buf[:n]...))
		if err != nil {
			a.logger.Debugw("dropping malformed krpc message", "error", err, "from", addr)
			continue
		}
		a.dispatch(m, udpAddr)
	}
}

func (a *Agent) dispatch(m *Message, from *net.UDPAddr) {
	switch m.Type {
	case TypeResponse, TypeError:
		a.mu.Lock()
		key := txKey{addr: from.String(), tx: string(m.TxID)}
		p, ok := a.pending[key]
		if ok {
			delete(a.pending, key)
		}
		a.mu.Unlock()
		if ok {
			p.result <- m
		}
		if m.Type == TypeResponse {
			if id, ok := m.Response.GetString("id"); ok && len(id) == core.NodeIDLength {
				a.touch(core.NodeID(id), from)
			}
		}
	case TypeQuery:
		select {
		case a.sem <- struct{}{}:
			go func() {
				defer func() { <-a.sem }()
				a.handleQuery(m, from)
			}()
		default:
			a.logger.Warnw("dhtagent handler pool saturated, dropping query", "from", from)
		}
	}
}

func (a *Agent) touch(id core.NodeID, addr *net.UDPAddr) {
	full := a.table.Insert(core.NewNodeInfo(id, addr))
	if full != nil {
		a.refresher.challenge(full)
	}
}

func (a *Agent) handleQuery(m *Message, from *net.UDPAddr) {
	senderID, ok := m.Args.GetString("id")
	if !ok || len(senderID) != core.NodeIDLength {
		a.reply(from, newError(m.TxID, ErrProtocol, "missing or invalid id"))
		return
	}
	a.touch(core.NodeID(senderID), from)

	switch m.Query {
	case Ping:
		a.reply(from, newResponse(m.TxID, a.localID, nil))
	case FindNode:
		target, ok := m.Args.GetString("target")
		if !ok || len(target) != core.NodeIDLength {
			a.reply(from, newError(m.TxID, ErrProtocol, "missing target"))
			return
		}
		a.reply(from, a.findNodeResponse(m.TxID, core.NodeID(target)))
	case GetPeers:
		ihBytes, ok := m.Args.GetString("info_hash")
		if !ok || len(ihBytes) != core.NodeIDLength {
			a.reply(from, newError(m.TxID, ErrProtocol, "missing info_hash"))
			return
		}
		var ih core.InfoHash
		copy(ih[:], ihBytes)
		a.reply(from, a.getPeersResponse(m.TxID, ih, from))
	case AnnouncePeer:
		a.handleAnnouncePeer(m, from)
	default:
		a.reply(from, newError(m.TxID, ErrMethUnknown, "unknown method"))
	}
}

func (a *Agent) findNodeResponse(txID []byte, target core.NodeID) *Message {
	nodes := a.table.GetClosest(target)
	buf, err := encodeCompactNodes(nodes)
	if err != nil {
		return newError(txID, ErrServer, err.Error())
	}
	return newResponse(txID, a.localID, bcodec.Dict{"nodes": bcodec.String(buf)})
}

func (a *Agent) getPeersResponse(txID []byte, ih core.InfoHash, from *net.UDPAddr) *Message {
	tok := a.tokens.Generate(from)
	extra := bcodec.Dict{"token": bcodec.String(tok)}

	a.peersMu.Lock()
	now := a.clk.Now()
	var values bcodec.List
	for _, p := range a.peers[ih] {
		if p.expires.Before(now) {
			continue
		}
		b, err := encodeCompactPeer(nil, p.addr)
		if err == nil {
			values = append(values, bcodec.String(b))
		}
	}
	a.peersMu.Unlock()

	if len(values) > 0 {
		extra["values"] = values
		return newResponse(txID, a.localID, extra)
	}
	nodes := a.table.GetClosest(core.NodeID(ih))
	buf, err := encodeCompactNodes(nodes)
	if err != nil {
		return newError(txID, ErrServer, err.Error())
	}
	extra["nodes"] = bcodec.String(buf)
	return newResponse(txID, a.localID, extra)
}

func (a *Agent) handleAnnouncePeer(m *Message, from *net.UDPAddr) {
	ihBytes, ok := m.Args.GetString("info_hash")
	tok, tokOK := m.Args.GetString("token")
	port, portOK := m.Args.GetInteger("port")
	if !ok || !tokOK || !portOK || len(ihBytes) != core.NodeIDLength {
		a.reply(from, newError(m.TxID, ErrProtocol, "malformed announce_peer"))
		return
	}
	if !a.tokens.Validate(from, []byte(tok)) {
		a.reply(from, newError(m.TxID, ErrProtocol, "bad token"))
		return
	}

	announcedPort := int(port)
	if ip, ok := m.Args.GetInteger("implied_port"); ok && ip != 0 {
		announcedPort = from.Port
	}

	var ih core.InfoHash
	copy(ih[:], ihBytes)
	peerAddr := &net.UDPAddr{IP: from.IP, Port: announcedPort}

	a.peersMu.Lock()
	entries := a.peers[ih]
	expires := a.clk.Now().Add(a.config.PeerAnnounceTTL)
	replaced := false
	for i, e := range entries {
		if e.addr.IP.Equal(peerAddr.IP) && e.addr.Port == peerAddr.Port {
			entries[i].expires = expires
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, announcedPeer{addr: peerAddr, expires: expires})
	}
	a.peers[ih] = entries
	a.peersMu.Unlock()

	a.reply(from, newResponse(m.TxID, a.localID, nil))
}

func (a *Agent) reply(to *net.UDPAddr, m *Message) {
	buf, err := Encode(m)
	if err != nil {
		a.logger.Errorw("dhtagent failed to encode reply", "error", err)
		return
	}
	if _, err := a.pc.WriteTo(buf, to); err != nil {
		a.logger.Debugw("dhtagent failed to send reply", "error", err, "to", to)
	}
}

// Query sends a KRPC query to addr and blocks until a matching response or
// error arrives, QueryTimeout elapses, or the agent closes.
func (a *Agent) Query(addr *net.UDPAddr, query string, args bcodec.Dict) (*Message, error) {
	txID := make([]byte, 4)
	if _, err := rand.Read(txID); err != nil {
		return nil, fmt.Errorf("dhtagent: generate txid: %w", err)
	}
	m := newQuery(txID, a.localID, query, args)
	buf, err := Encode(m)
	if err != nil {
		return nil, err
	}

	key := txKey{addr: addr.String(), tx: string(txID)}
	p := &pendingQuery{result: make(chan *Message, 1)}
	a.mu.Lock()
	a.pending[key] = p
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, key)
		a.mu.Unlock()
	}()

	if _, err := a.pc.WriteTo(buf, addr); err != nil {
		return nil, err
	}

	timer := a.clk.Timer(a.config.QueryTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-p.result:
		if !ok {
			return nil, ErrAgentClosed
		}
		if resp.Type == TypeError {
			return nil, fmt.Errorf("dhtagent: peer returned error %d: %s", resp.ErrorCode, resp.ErrorMsg)
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrNoResponse
	case <-a.done:
		return nil, ErrAgentClosed
	}
}

// Ping queries addr's node id.
func (a *Agent) Ping(addr *net.UDPAddr) (core.NodeID, error) {
	resp, err := a.Query(addr, Ping, nil)
	if err != nil {
		return core.NodeID{}, err
	}
	id, ok := resp.Response.GetString("id")
	if !ok || len(id) != core.NodeIDLength {
		return core.NodeID{}, &ErrMalformed{Reason: "ping response missing id"}
	}
	return core.NodeID(id), nil
}

// FindNode asks addr for the nodes closest to target.
func (a *Agent) FindNode(addr *net.UDPAddr, target core.NodeID) ([]core.NodeInfo, error) {
	resp, err := a.Query(addr, FindNode, bcodec.Dict{"target": bcodec.String(target[:])})
	if err != nil {
		return nil, err
	}
	nodes, ok := resp.Response.GetString("nodes")
	if !ok {
		return nil, &ErrMalformed{Reason: "find_node response missing nodes"}
	}
	return core.DecodeCompactNodeInfos([]byte(nodes))
}

// GetPeersResult is the decoded response to a get_peers query: either Peers
// (the torrent has known seeders/leechers) or Nodes (closer nodes to
// query), plus the announce Token to use for a later AnnouncePeer.
type GetPeersResult struct {
	Token []byte
	Peers []*net.UDPAddr
	Nodes []core.NodeInfo
}

// GetPeers asks addr for peers or closer nodes for infoHash.
func (a *Agent) GetPeers(addr *net.UDPAddr, infoHash core.InfoHash) (*GetPeersResult, error) {
	resp, err := a.Query(addr, GetPeers, bcodec.Dict{"info_hash": bcodec.String(infoHash[:])})
	if err != nil {
		return nil, err
	}
	out := &GetPeersResult{}
	if tok, ok := resp.Response.GetString("token"); ok {
		out.Token = []byte(tok)
	}
	if values, ok := resp.Response.GetList("values"); ok {
		for _, v := range values {
			s, ok := v.(bcodec.String)
			if !ok {
				continue
			}
			peerAddr, err := decodeCompactPeer([]byte(s))
			if err != nil {
				continue
			}
			out.Peers = append(out.Peers, peerAddr)
		}
		return out, nil
	}
	if nodes, ok := resp.Response.GetString("nodes"); ok {
		decoded, err := core.DecodeCompactNodeInfos([]byte(nodes))
		if err != nil {
			return nil, err
		}
		out.Nodes = decoded
	}
	return out, nil
}

// AnnouncePeer announces that the local node is serving infoHash on port,
// using the token obtained from a prior GetPeers call to addr.
func (a *Agent) AnnouncePeer(addr *net.UDPAddr, infoHash core.InfoHash, port int, tok []byte) error {
	_, err := a.Query(addr, AnnouncePeer, bcodec.Dict{
		"info_hash": bcodec.String(infoHash[:]),
		"port":      bcodec.Integer(port),
		"token":     bcodec.String(tok),
	})
	return err
}

func encodeCompactNodes(nodes []core.NodeInfo) ([]byte, error) {
	var buf []byte
	for _, n := range nodes {
		var err error
		buf, err = core.EncodeCompactNodeInfo(buf, n)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (a *Agent) refreshLoop() {
	defer a.wg.Done()
	ticker := a.clk.Ticker(a.config.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.refresher.scanAndRefresh()
			a.evictExpiredPeers()
		}
	}
}

func (a *Agent) evictExpiredPeers() {
	now := a.clk.Now()
	a.peersMu.Lock()
	defer a.peersMu.Unlock()
	for ih, entries := range a.peers {
		kept := entries[:0]
		for _, e := range entries {
			if e.expires.After(now) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(a.peers, ih)
		} else {
			a.peers[ih] = kept
		}
	}
}
