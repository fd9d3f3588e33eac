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

import "errors"

// ErrIncompatible is returned when a message requires a protocol feature
// that was not advertised by both sides of a connection.
var ErrIncompatible = errors.New("wire: feature not advertised by both sides")

// requiredFeature reports which Features field, if any, gates id. The
// second return is false for messages that are always permitted.
func requiredFeature(id ID) (feature string, gated bool) {
	switch id {
	case Port:
		return "dht", true
	case Suggest, HaveAll, HaveNone, Reject, AllowedFast:
		return "fast", true
	case Extended:
		return "extension", true
	default:
		return "", false
	}
}

func featureEnabled(f Features, name string) bool {
	switch name {
	case "dht":
		return f.DHT
	case "fast":
		return f.Fast
	case "extension":
		return f.Extension
	default:
		return true
	}
}

// CheckFeature reports ErrIncompatible if m requires a feature that local
// or remote did not both advertise.
func CheckFeature(m *Message, local, remote Features) error {
	name, gated := requiredFeature(m.ID)
	if !gated {
		return nil
	}
	if !featureEnabled(local, name) || !featureEnabled(remote, name) {
		return ErrIncompatible
	}
	return nil
}
