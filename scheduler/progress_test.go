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
package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressCompletesOnFullCoverage(t *testing.T) {
	p := NewProgress(10)
	require.False(t, p.IsCompleted())
	p.Add(0, 4)
	require.False(t, p.IsCompleted())
	p.Add(4, 6)
	require.True(t, p.IsCompleted())
}

func TestProgressAddIsIdempotent(t *testing.T) {
	p := NewProgress(10)
	p.Add(0, 10)
	require.True(t, p.IsCompleted())
	p.Add(0, 10)
	require.True(t, p.IsCompleted())
}

func TestProgressAddIsCommutative(t *testing.T) {
	a := NewProgress(10)
	a.Add(0, 4)
	a.Add(4, 6)

	b := NewProgress(10)
	b.Add(4, 6)
	b.Add(0, 4)

	require.Equal(t, a.Missing(), b.Missing())
	require.True(t, a.IsCompleted())
	require.True(t, b.IsCompleted())
}

func TestProgressOverlappingAdd(t *testing.T) {
	p := NewProgress(10)
	p.Add(2, 4) // [2,6)
	p.Add(0, 4) // [0,4) overlaps, leaves [6,10) missing
	require.Equal(t, []byteRange{{6, 10}}, p.Missing())
}

func TestProgressEmptyPiece(t *testing.T) {
	p := NewProgress(0)
	require.True(t, p.IsCompleted())
}
