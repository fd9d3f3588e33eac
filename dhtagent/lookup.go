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
	"errors"
	"net"
	"sort"
	"sync"

	"github.com/torrentd/peerstack/core"
)

// ErrLookupEmpty is returned by Lookup when the routing table has no
// starting candidates to bootstrap the search from.
var ErrLookupEmpty = errors.New("dhtagent: lookup has no bootstrap candidates")

// lookupK bounds how many closest nodes Lookup returns, matching the
// standard Kademlia bucket size used throughout routing.Table.
const lookupK = 8

// Result is the outcome of an iterative DHT lookup: the k closest nodes to
// target on the lookup's shortlist (whether or not they were queried or
// answered), and, for a get_peers lookup, any peers and the
// token returned by whichever node served them (ready for AnnouncePeer).
type Result struct {
	Closest []core.NodeInfo
	Peers   []*net.UDPAddr
	Token   []byte
	From    *net.UDPAddr
}

type shortlistEntry struct {
	info    core.NodeInfo
	queried bool
}

// Lookup performs an iterative find_node (wantPeers=false) or get_peers
// (wantPeers=true) search for target, querying up to alpha nodes
// concurrently per round until a round adds no node that was not already
// on the shortlist, or no unqueried node remains. It seeds its shortlist from the agent's routing
// table rather than from caller-supplied bootstrap endpoints, since the
// agent already maintains one.
func Lookup(agent *Agent, target core.NodeID, alpha int, wantPeers bool) (*Result, error) {
	if alpha <= 0 {
		alpha = 3
	}
	seed := agent.table.GetClosest(target)
	if len(seed) == 0 {
		return nil, ErrLookupEmpty
	}

	var mu sync.Mutex
	shortlist := make(map[core.NodeID]*shortlistEntry, len(seed))
	for _, info := range seed {
		shortlist[info.ID] = &shortlistEntry{info: info}
	}

	result := &Result{}

	for {
		mu.Lock()
		batch := pickUnqueried(shortlist, target, alpha)
		mu.Unlock()
		if len(batch) == 0 {
			break
		}

		var wg sync.WaitGroup
		progressed := false
		for _, entry := range batch {
			entry := entry
			wg.Add(1)
			go func() {
				defer wg.Done()

				mu.Lock()
				entry.queried = true
				mu.Unlock()

				if wantPeers {
					var ih core.InfoHash
					copy(ih[:], target[:])
					resp, err := agent.GetPeers(entry.info.Addr, ih)
					if err != nil {
						return
					}
					mu.Lock()
					if len(resp.Peers) > 0 && len(result.Peers) == 0 {
						result.Peers = resp.Peers
						result.Token = resp.Token
						result.From = entry.info.Addr
					}
					for _, n := range resp.Nodes {
						if _, ok := shortlist[n.ID]; !ok {
							shortlist[n.ID] = &shortlistEntry{info: n}
							progressed = true
						}
					}
					mu.Unlock()
				} else {
					nodes, err := agent.FindNode(entry.info.Addr, target)
					if err != nil {
						return
					}
					mu.Lock()
					for _, n := range nodes {
						if _, ok := shortlist[n.ID]; !ok {
							shortlist[n.ID] = &shortlistEntry{info: n}
							progressed = true
						}
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if !progressed {
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	all := make([]core.NodeInfo, 0, len(shortlist))
	for _, e := range shortlist {
		all = append(all, e.info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID.CloserThan(all[j].ID, target)
	})
	if len(all) > lookupK {
		all = all[:lookupK]
	}
	result.Closest = all
	return result, nil
}

func pickUnqueried(shortlist map[core.NodeID]*shortlistEntry, target core.NodeID, n int) []*shortlistEntry {
	candidates := make([]*shortlistEntry, 0, len(shortlist))
	for _, e := range shortlist {
		if !e.queried {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].info.ID.CloserThan(candidates[j].info.ID, target)
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}
