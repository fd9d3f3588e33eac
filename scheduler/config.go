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

// Package scheduler assigns torrent pieces to peer connections: which
// piece to request next, how many requests may be in flight to a single
// peer, and how to recover from requests that time out or come back
// invalid.
package scheduler

import (
	"math"
	"time"

	"github.com/torrentd/peerstack/utils/memsize"
)

// Config defines the configuration for piece assignment.
type Config struct {
	// PieceRequestMinTimeout is the minimum timeout for all piece requests,
	// regardless of size.
	PieceRequestMinTimeout time.Duration `yaml:"piece_request_min_timeout"`

	// PieceRequestTimeoutPerMb is the duration added to a piece request's
	// timeout per megabyte of piece length.
	PieceRequestTimeoutPerMb time.Duration `yaml:"piece_request_timeout_per_mb"`

	// Policy selects which piece-selection policy to use.
	Policy string `yaml:"policy"`

	// PipelineLimit caps the number of in-flight requests to a single peer.
	PipelineLimit int `yaml:"pipeline_limit"`

	// EndgameThreshold is a missing-piece count that is defaulted but not
	// consulted when deciding endgame; EndgameThresholdFraction alone
	// decides when requests may be duplicated across multiple peers.
	EndgameThreshold int `yaml:"endgame_threshold"`

	DisableEndgame bool `yaml:"disable_endgame"`

	// MaxAssignments caps how many pieces may be concurrently assigned to
	// a single peer outside of endgame.
	MaxAssignments int `yaml:"max_assignments"`

	// MaxReplicates caps how many peers the same piece may be assigned to
	// concurrently outside of endgame.
	MaxReplicates int `yaml:"max_replicates"`

	// EndgameMaxAssignments and EndgameMaxReplicates replace MaxAssignments
	// and MaxReplicates once the torrent enters endgame.
	EndgameMaxAssignments int `yaml:"endgame_max_assignments"`
	EndgameMaxReplicates  int `yaml:"endgame_max_replicates"`

	// EndgameThresholdFraction is the fraction (0, 1] of pieces still
	// needed, relative to the total piece count, at or below which the
	// scheduler enters endgame mode. EndgameThreshold has no effect on
	// this decision.
	EndgameThresholdFraction float64 `yaml:"endgame_threshold_fraction"`

	// BackoffMin and BackoffMax bound the doubling (peer, piece) backoff
	// applied after a peer drops a requested piece.
	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`
}

func (c Config) applyDefaults() Config {
	if c.Policy == "" {
		c.Policy = DefaultPolicy
	}
	if c.PieceRequestMinTimeout == 0 {
		c.PieceRequestMinTimeout = 4 * time.Second
	}
	if c.PieceRequestTimeoutPerMb == 0 {
		c.PieceRequestTimeoutPerMb = 4 * time.Second
	}
	if c.PipelineLimit == 0 {
		c.PipelineLimit = 3
	}
	if c.EndgameThreshold == 0 {
		c.EndgameThreshold = c.PipelineLimit
	}
	if c.MaxAssignments == 0 {
		c.MaxAssignments = 3
	}
	if c.MaxReplicates == 0 {
		c.MaxReplicates = 1
	}
	if c.EndgameMaxAssignments == 0 {
		c.EndgameMaxAssignments = c.MaxAssignments * 3
	}
	if c.EndgameMaxReplicates == 0 {
		c.EndgameMaxReplicates = 3
	}
	if c.EndgameThresholdFraction == 0 {
		c.EndgameThresholdFraction = 0.05
	}
	if c.BackoffMin == 0 {
		c.BackoffMin = time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 2 * time.Minute
	}
	return c
}

// PieceRequestTimeout computes the piece request timeout for a piece of the
// given length.
func (c Config) PieceRequestTimeout(pieceLength int64) time.Duration {
	n := float64(c.PieceRequestTimeoutPerMb) * float64(pieceLength) / float64(memsize.MB)
	d := time.Duration(math.Ceil(n))
	return max(d, c.PieceRequestMinTimeout)
}
