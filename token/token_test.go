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
package token

import (
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
)

func testSecret() [8]byte {
	return [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
}

func TestValidateAcrossBucketWindow(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	src := New(Config{Period: time.Second, ValidSince: 2 * time.Second}, clk, testSecret())

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8000}

	tok := src.Generate(addr)

	// t0: generated now, must validate immediately.
	require.True(src.Validate(addr, tok))

	// t1
	clk.Add(time.Second)
	require.True(src.Validate(addr, tok))

	// t2: still within the 2s valid-since window.
	clk.Add(time.Second)
	require.True(src.Validate(addr, tok))

	// t3: now outside the window.
	clk.Add(time.Second)
	require.False(src.Validate(addr, tok))
}

func TestValidateRejectsWrongEndpoint(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	src := New(Config{Period: time.Second, ValidSince: 2 * time.Second}, clk, testSecret())

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8000}
	other := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8001}

	tok := src.Generate(addr)
	require.False(src.Validate(other, tok))
}

func TestValidateRejectsGarbage(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	src := New(Config{Period: time.Second, ValidSince: 2 * time.Second}, clk, testSecret())

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8000}
	require.False(src.Validate(addr, []byte("not a token")))
}

func TestTwoSourcesWithDifferentSecretsDisagree(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8000}

	a := New(Config{Period: time.Second, ValidSince: 2 * time.Second}, clk, testSecret())
	b := New(Config{Period: time.Second, ValidSince: 2 * time.Second}, clk, [8]byte{9, 9, 9, 9, 9, 9, 9, 9})

	require.False(b.Validate(addr, a.Generate(addr)))
}

// TestValidateMonotoneAsTimeAdvances exercises the general invariant: for a
// token generated at a fixed age, validity holds exactly while the current
// age is within the configured window and never holds again once it has
// expired, regardless of how much further time advances.
func TestValidateMonotoneAsTimeAdvances(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	src := New(Config{Period: time.Second, ValidSince: 3 * time.Second}, clk, testSecret())
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8000}

	// Let five buckets pass before minting the token under test, so the
	// window can be probed on both sides of age 0.
	clk.Add(5 * time.Second)
	tok := src.Generate(addr)
	genAge := src.Age(clk.Now())
	require.Equal(int64(5), genAge)

	for i := 0; i <= 10; i++ {
		age := src.Age(clk.Now())
		got := src.Validate(addr, tok)
		want := age >= genAge && age-genAge <= 3
		require.Equal(want, got, "age=%d", age)
		clk.Add(time.Second)
	}
}
