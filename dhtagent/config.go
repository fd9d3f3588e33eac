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
	"time"

	"github.com/torrentd/peerstack/utils/backoff"
)

// Config tunes an Agent's concurrency and timeouts.
type Config struct {
	// Alpha is the iterative lookup concurrency factor (BEP 5 recommends 3).
	Alpha int `yaml:"alpha"`

	// QueryTimeout bounds how long Query waits for a matching response.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// HandlerConcurrency bounds how many inbound queries are processed
	// concurrently.
	HandlerConcurrency int `yaml:"handler_concurrency"`

	// PeerAnnounceTTL is how long an announce_peer entry is served before
	// it is evicted, absent a re-announce.
	PeerAnnounceTTL time.Duration `yaml:"peer_announce_ttl"`

	// RefreshInterval is how often the agent scans the routing table for
	// stale buckets and issues refresh lookups.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// PingBackoff bounds the retries spent pinging a bucket incumbent
	// before the refresher declares it dead and evicts it.
	PingBackoff backoff.Config `yaml:"ping_backoff"`
}

func (c Config) applyDefaults() Config {
	if c.Alpha == 0 {
		c.Alpha = 3
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.HandlerConcurrency == 0 {
		c.HandlerConcurrency = 32
	}
	if c.PeerAnnounceTTL == 0 {
		c.PeerAnnounceTTL = 30 * time.Minute
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = time.Minute
	}
	if c.PingBackoff.Min == 0 {
		c.PingBackoff.Min = 500 * time.Millisecond
	}
	if c.PingBackoff.RetryTimeout == 0 {
		c.PingBackoff.RetryTimeout = time.Second
	}
	return c
}
