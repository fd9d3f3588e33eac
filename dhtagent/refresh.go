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
	"net"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/torrentd/peerstack/core"
	"github.com/torrentd/peerstack/routing"
	"github.com/torrentd/peerstack/utils/backoff"
)

// NodeRefresher keeps the routing table populated: it resolves k-bucket
// overflow by pinging the least-recently-seen incumbents and evicting any
// that fail to answer, and it periodically seeks out buckets that have
// gone stale so a mostly-idle node still learns new neighbors over time.
type NodeRefresher struct {
	agent       *Agent
	table       *routing.Table
	alpha       int
	pingBackoff *backoff.Backoff
	clk         clock.Clock
	logger      *zap.SugaredLogger
}

func newNodeRefresher(agent *Agent, table *routing.Table, alpha int, pingBackoff backoff.Config, clk clock.Clock, logger *zap.SugaredLogger) *NodeRefresher {
	return &NodeRefresher{
		agent:       agent,
		table:       table,
		alpha:       alpha,
		pingBackoff: backoff.New(pingBackoff),
		clk:         clk,
		logger:      logger,
	}
}

// challenge resolves a Full bucket conflict: it pings the bucket's
// incumbents and, for the first one that fails to answer, replaces it with
// the candidate. If every incumbent answers, the candidate is dropped, per
// Kademlia's least-recently-seen eviction policy. Each incumbent gets the
// configured retry budget before it is declared dead, so a single dropped
// datagram does not evict a live node.
func (r *NodeRefresher) challenge(full *routing.Full) {
	go func() {
		for _, incumbent := range full.Incumbents {
			if !r.alive(incumbent.Addr) {
				r.table.Remove(incumbent.ID)
				if ins := r.table.Insert(full.Candidate); ins != nil {
					r.logger.Debugw("dht bucket still full after eviction", "candidate", full.Candidate)
				}
				return
			}
		}
		r.logger.Debugw("dht bucket candidate dropped, all incumbents alive", "candidate", full.Candidate)
	}()
}

func (r *NodeRefresher) alive(addr *net.UDPAddr) bool {
	attempts := r.pingBackoff.Attempts()
	for attempts.WaitForNext() {
		if _, err := r.agent.Ping(addr); err == nil {
			return true
		}
	}
	return false
}

// scanAndRefresh walks every stale bucket and issues a find_node lookup for
// a random id within it, repopulating buckets the node hasn't organically
// heard from in Config.RefreshPeriod.
func (r *NodeRefresher) scanAndRefresh() {
	for _, sb := range r.table.Stale() {
		target, err := core.RandomNodeIDInPrefix(sb.Prefix, sb.PrefixLen)
		if err != nil {
			r.logger.Errorw("dht refresh failed to pick target", "error", err)
			continue
		}
		go func(target core.NodeID) {
			if _, err := Lookup(r.agent, target, r.alpha, false); err != nil {
				r.logger.Debugw("dht bucket refresh lookup failed", "error", err, "target", target)
			}
		}(target)
	}
}
