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

// Package memsize formats byte and bit counts as human-readable strings,
// for logging send/receive buffer sizes and bandwidth limits.
package memsize

import "fmt"

// Byte-count units.
const (
	B  uint64 = 1
	KB        = B * 1024
	MB        = KB * 1024
	GB        = MB * 1024
	TB        = GB * 1024
)

// Bit-count units.
const (
	bit  uint64 = 1
	Kbit        = bit * 1024
	Mbit        = Kbit * 1024
	Gbit        = Mbit * 1024
	Tbit        = Gbit * 1024
)

var byteUnits = []struct {
	size   uint64
	suffix string
}{
	{TB, "TB"},
	{GB, "GB"},
	{MB, "MB"},
	{KB, "KB"},
	{B, "B"},
}

var bitUnits = []struct {
	size   uint64
	suffix string
}{
	{Tbit, "Tbit"},
	{Gbit, "Gbit"},
	{Mbit, "Mbit"},
	{Kbit, "Kbit"},
	{bit, "bit"},
}

// Format renders a byte count using the largest whole unit it fits,
// e.g. Format(GB+512*MB) == "1.50GB". Format(0) == "0B".
func Format(bytes uint64) string {
	if bytes == 0 {
		return "0B"
	}
	for _, u := range byteUnits {
		if bytes >= u.size {
			return fmt.Sprintf("%.2f%s", float64(bytes)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%.2fB", float64(bytes))
}

// BitFormat renders a bit count the same way Format renders bytes.
func BitFormat(bits uint64) string {
	if bits == 0 {
		return "0bit"
	}
	for _, u := range bitUnits {
		if bits >= u.size {
			return fmt.Sprintf("%.2f%s", float64(bits)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%.2fbit", float64(bits))
}
