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
package utp

import "testing"

// TestToPacketSize: a 1000-byte path MTU leaves 972 bytes for a uTP
// packet once the IP and UDP headers are subtracted.
func TestToPacketSize(t *testing.T) {
	if got, want := ToPacketSize(1000), 972; got != want {
		t.Fatalf("ToPacketSize(1000) = %d, want %d", got, want)
	}
}
