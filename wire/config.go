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
package wire

// Config controls which optional protocol extensions the local side
// advertises and enforces.
type Config struct {
	// Features are the bits this side sets in its own handshake.
	Features Features `yaml:"features"`

	// EnforceFeatures, when true, causes ErrIncompatible for any
	// feature-gated message whose feature was not advertised by both
	// sides. Tests sometimes disable
	// this to exercise message parsing in isolation.
	EnforceFeatures bool `yaml:"enforce_features"`
}

// DefaultConfig returns a Config advertising every optional feature and
// enforcing feature gating on feature-gated messages.
func DefaultConfig() Config {
	return Config{
		Features:        Features{Extension: true, Fast: true, DHT: true},
		EnforceFeatures: true,
	}
}
