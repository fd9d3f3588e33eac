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

// Package routing implements the DHT's Kademlia routing table: a binary
// trie of k-buckets keyed by NodeId prefix, splitting only the bucket that
// covers the local node's id.
package routing

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/torrentd/peerstack/core"
)

// Config configures a Table.
type Config struct {
	// K is the maximum number of entries per bucket.
	K int `yaml:"k"`
	// RefreshPeriod is how long a bucket may go untouched before Stale
	// reports it as needing a lookup-driven refresh.
	RefreshPeriod time.Duration `yaml:"refresh_period"`
}

func (c Config) applyDefaults() Config {
	if c.K == 0 {
		c.K = 8
	}
	if c.RefreshPeriod == 0 {
		c.RefreshPeriod = 15 * time.Minute
	}
	return c
}

// Full is returned by Insert when a bucket not covering the local NodeId is
// full. The caller is expected to ping Incumbents and, if any fail to
// respond, Remove them and retry inserting Candidate.
type Full struct {
	Incumbents []core.NodeInfo
	Candidate  core.NodeInfo
}

// node is one trie node: either a leaf holding a bucket, or split into two
// children distinguishing on the bit at PrefixLen.
type node struct {
	prefixLen   int
	prefix      core.NodeID
	bucket      *bucket
	left, right *node
}

func newLeaf(prefixLen int, prefix core.NodeID) *node {
	return &node{prefixLen: prefixLen, prefix: prefix, bucket: newBucket()}
}

// bucket holds up to K entries sharing a NodeId prefix, with an
// LRU-by-touch ordering (least-recently-seen first) and a last-touched
// timestamp used to decide whether the bucket needs a refresh lookup.
type bucket struct {
	entries      []core.NodeInfo
	recentlySeen time.Time
}

func newBucket() *bucket {
	return &bucket{}
}

func (b *bucket) indexOf(id core.NodeID) int {
	for i, e := range b.entries {
		if e.ID.Equal(id) {
			return i
		}
	}
	return -1
}

// touch moves id to the back of entries (most-recently-seen) if present and
// returns true; it never changes membership.
func (b *bucket) touch(id core.NodeID, now time.Time) bool {
	i := b.indexOf(id)
	if i == -1 {
		return false
	}
	e := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	b.entries = append(b.entries, e)
	b.recentlySeen = now
	return true
}

func (b *bucket) remove(id core.NodeID) bool {
	i := b.indexOf(id)
	if i == -1 {
		return false
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	return true
}

// Table is a Kademlia routing table for a single local NodeId. It is safe
// for concurrent use; callers holding
// both a Table and a peers-per-InfoHash map must acquire the Table's lock
// first.
type Table struct {
	mu     sync.Mutex
	config Config
	clk    clock.Clock
	local  core.NodeID
	root   *node
}

// New creates a Table for the given local NodeId.
func New(config Config, clk clock.Clock, local core.NodeID) *Table {
	config = config.applyDefaults()
	return &Table{
		config: config,
		clk:    clk,
		local:  local,
		root:   newLeaf(0, core.NodeID{}),
	}
}

// covers reports whether n, a trie node spanning [prefixLen bits of prefix],
// contains the local NodeId.
func (t *Table) covers(n *node) bool {
	return n.prefix.PrefixLen(t.local) >= n.prefixLen
}

// Insert adds or refreshes info in the table. If an entry for info.ID
// already exists, it is moved to the most-recently-seen position. If the
// owning bucket is full and covers the local id, it is split (possibly
// repeatedly) until info fits or lands in a non-covering full bucket, in
// which case a *Full is returned describing who to challenge.
func (t *Table) Insert(info core.NodeInfo) *Full {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for n.bucket == nil {
		n = t.child(n, info.ID)
	}

	for {
		now := t.clk.Now()
		if n.bucket.touch(info.ID, now) {
			return nil
		}
		if len(n.bucket.entries) < t.config.K {
			n.bucket.entries = append(n.bucket.entries, info)
			n.bucket.recentlySeen = now
			return nil
		}
		if !t.covers(n) {
			incumbents := make([]core.NodeInfo, len(n.bucket.entries))
			copy(incumbents, n.bucket.entries)
			return &Full{Incumbents: incumbents, Candidate: info}
		}
		t.split(n)
		n = t.child(n, info.ID)
	}
}

// child returns n's subtree (left if the bit at n.prefixLen is 0, right if
// 1) for id. n must not be a leaf.
func (t *Table) child(n *node, id core.NodeID) *node {
	if id.Bit(n.prefixLen) == 0 {
		return n.left
	}
	return n.right
}

// split replaces leaf n with two leaf children, redistributing its entries
// by the next prefix bit.
func (t *Table) split(n *node) {
	left := newLeaf(n.prefixLen+1, n.prefix)
	right := newLeaf(n.prefixLen+1, flipBit(n.prefix, n.prefixLen))

	for _, e := range n.bucket.entries {
		if e.ID.Bit(n.prefixLen) == 0 {
			left.bucket.entries = append(left.bucket.entries, e)
		} else {
			right.bucket.entries = append(right.bucket.entries, e)
		}
	}
	left.bucket.recentlySeen = n.bucket.recentlySeen
	right.bucket.recentlySeen = n.bucket.recentlySeen

	n.bucket = nil
	n.left = left
	n.right = right
}

func flipBit(id core.NodeID, bit int) core.NodeID {
	out := id
	byteIdx := bit / 8
	mask := byte(0x80 >> uint(bit%8))
	out[byteIdx] |= mask
	return out
}

// Remove deletes the entry for id, if present.
func (t *Table) Remove(id core.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for n.bucket == nil {
		n = t.child(n, id)
	}
	n.bucket.remove(id)
}

// GetClosest returns up to K entries across all buckets in ascending XOR
// distance to target.
func (t *Table) GetClosest(target core.NodeID) []core.NodeInfo {
	t.mu.Lock()
	var all []core.NodeInfo
	t.collect(t.root, &all)
	t.mu.Unlock()

	sorted := core.SortedByDistance(all, target)
	if len(sorted) > t.config.K {
		sorted = sorted[:t.config.K]
	}
	return sorted
}

func (t *Table) collect(n *node, out *[]core.NodeInfo) {
	if n.bucket != nil {
		*out = append(*out, n.bucket.entries...)
		return
	}
	t.collect(n.left, out)
	t.collect(n.right, out)
}

// StaleBucket identifies a bucket whose recentlySeen is older than the
// refresh period, by the prefix a random-in-prefix lookup target should be
// generated within.
type StaleBucket struct {
	Prefix    core.NodeID
	PrefixLen int
}

// Stale returns every bucket that has gone untouched longer than
// Config.RefreshPeriod, for the agent's periodic refresh scan.
func (t *Table) Stale() []StaleBucket {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	var stale []StaleBucket
	t.scanStale(t.root, now, &stale)
	return stale
}

func (t *Table) scanStale(n *node, now time.Time, out *[]StaleBucket) {
	if n.bucket != nil {
		if n.bucket.recentlySeen.IsZero() || now.Sub(n.bucket.recentlySeen) > t.config.RefreshPeriod {
			*out = append(*out, StaleBucket{Prefix: n.prefix, PrefixLen: n.prefixLen})
		}
		return
	}
	t.scanStale(n.left, now, out)
	t.scanStale(n.right, now, out)
}

// Len returns the total number of entries across all buckets.
func (t *Table) Len() int {
	t.mu.Lock()
	var all []core.NodeInfo
	t.collect(t.root, &all)
	t.mu.Unlock()
	return len(all)
}
