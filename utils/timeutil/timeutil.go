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

// Package timeutil collects small time.Time/time.Timer helpers shared by
// the scheduler and DHT agent's recency tracking.
package timeutil

import "time"

// MostRecent returns the latest of ts, or the zero time if ts is empty.
func MostRecent(ts ...time.Time) time.Time {
	var best time.Time
	for _, t := range ts {
		if t.After(best) {
			best = t
		}
	}
	return best
}
