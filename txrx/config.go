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

// Package txrx implements the top-level per-torrent coordinator:
// it composes a pool of peeractor.Actor connections, a
// scheduler.Scheduler, and a storage.Torrent, translating peer actor
// events into scheduler calls and scheduler assignment updates into
// outgoing block requests.
package txrx

import "time"

// Config tunes a Transceiver's pipelining and background ticking.
type Config struct {
	// PipelineLimit caps how many blocks are requested at once from a
	// single peer's currently assigned pieces.
	PipelineLimit int `yaml:"pipeline_limit"`

	// TickInterval drives the periodic scheduler.Tick/peeractor
	// expiration sweep.
	TickInterval time.Duration `yaml:"tick_interval"`

	// ShutdownGracePeriod bounds how long Stop waits for peer actors to
	// drain before aborting them outright.
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

func (c Config) applyDefaults() Config {
	if c.PipelineLimit == 0 {
		c.PipelineLimit = 5
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if c.ShutdownGracePeriod == 0 {
		c.ShutdownGracePeriod = 10 * time.Second
	}
	return c
}
