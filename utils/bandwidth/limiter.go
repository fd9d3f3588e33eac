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

// Package bandwidth limits egress and ingress throughput via a
// token-bucket rate limiter, one per direction, so a peer actor's reads
// and writes stay under the configured caps.
package bandwidth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/torrentd/peerstack/utils/memsize"
)

// Config defines Limiter configuration.
type Config struct {
	EgressBitsPerSec  uint64 `yaml:"egress_bits_per_sec"`
	IngressBitsPerSec uint64 `yaml:"ingress_bits_per_sec"`

	// TokenSize defines the granularity of a token in the bucket. It is
	// used to avoid integer overflow errors that would occur if we mapped
	// each bit to a token.
	TokenSize uint64 `yaml:"token_size"`

	// Enable turns on bandwidth limiting. When false, Reserve* calls are
	// no-ops.
	Enable bool `yaml:"enable"`
}

func (c Config) applyDefaults() Config {
	if c.TokenSize == 0 {
		c.TokenSize = memsize.Mbit
	}
	return c
}

// Limiter limits egress and ingress bandwidth via per-direction
// token-bucket rate limiters.
type Limiter struct {
	config  Config
	egress  *rate.Limiter
	ingress *rate.Limiter

	egressLimit  int64
	ingressLimit int64
}

// NewLimiter creates a new Limiter. If config.Enable is false, Reserve*
// calls always succeed immediately and no limiter is constructed.
func NewLimiter(config Config) (*Limiter, error) {
	config = config.applyDefaults()

	if !config.Enable {
		return &Limiter{config: config}, nil
	}
	if config.EgressBitsPerSec == 0 {
		return nil, errors.New("bandwidth: egress_bits_per_sec must be set when enabled")
	}
	if config.IngressBitsPerSec == 0 {
		return nil, errors.New("bandwidth: ingress_bits_per_sec must be set when enabled")
	}

	etps := tokensPerSec(config.EgressBitsPerSec, config.TokenSize)
	itps := tokensPerSec(config.IngressBitsPerSec, config.TokenSize)

	return &Limiter{
		config:       config,
		egress:       rate.NewLimiter(rate.Limit(etps), int(etps)),
		ingress:      rate.NewLimiter(rate.Limit(itps), int(itps)),
		egressLimit:  int64(etps),
		ingressLimit: int64(itps),
	}, nil
}

func tokensPerSec(bitsPerSec, tokenSize uint64) uint64 {
	tps := bitsPerSec / tokenSize
	if tps == 0 {
		tps = 1
	}
	return tps
}

func (l *Limiter) reserve(rl *rate.Limiter, nbytes int64) error {
	if !l.config.Enable {
		return nil
	}
	tokens := int(uint64(nbytes*8) / l.config.TokenSize)
	if tokens == 0 {
		tokens = 1
	}
	r := rl.ReserveN(time.Now(), tokens)
	if !r.OK() {
		return fmt.Errorf(
			"cannot reserve %s, max is %s",
			memsize.Format(uint64(nbytes)),
			memsize.BitFormat(l.config.TokenSize*uint64(rl.Burst())))
	}
	time.Sleep(r.Delay())
	return nil
}

// ReserveEgress blocks until egress bandwidth for nbytes is available.
func (l *Limiter) ReserveEgress(nbytes int64) error {
	return l.reserve(l.egress, nbytes)
}

// ReserveIngress blocks until ingress bandwidth for nbytes is available.
func (l *Limiter) ReserveIngress(nbytes int64) error {
	return l.reserve(l.ingress, nbytes)
}

// Adjust rescales both limits to 1/denom of their originally configured
// values (with a floor of one token per second), for the scheduler to
// shrink each peer's share as the number of active connections grows.
func (l *Limiter) Adjust(denom int) error {
	if denom == 0 {
		return errors.New("bandwidth: denom must be non-zero")
	}
	if !l.config.Enable {
		return nil
	}

	egressBps := divFloor1(l.config.EgressBitsPerSec, denom)
	ingressBps := divFloor1(l.config.IngressBitsPerSec, denom)

	etps := tokensPerSec(egressBps, l.config.TokenSize)
	itps := tokensPerSec(ingressBps, l.config.TokenSize)

	l.egress.SetLimit(rate.Limit(etps))
	l.egress.SetBurst(int(etps))
	l.ingress.SetLimit(rate.Limit(itps))
	l.ingress.SetBurst(int(itps))

	l.egressLimit = int64(etps)
	l.ingressLimit = int64(itps)
	return nil
}

func divFloor1(n uint64, denom int) uint64 {
	v := n / uint64(denom)
	if v == 0 {
		v = 1
	}
	return v
}

// EgressLimit returns the current egress rate limit, in tokens per second.
func (l *Limiter) EgressLimit() int64 {
	return l.egressLimit
}

// IngressLimit returns the current ingress rate limit, in tokens per second.
func (l *Limiter) IngressLimit() int64 {
	return l.ingressLimit
}
