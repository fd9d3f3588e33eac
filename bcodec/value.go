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

// Package bcodec implements the bencode value model: a byte string, a
// signed 64-bit integer, an ordered list, or a dictionary keyed by sorted
// byte strings. It is the wire format for KRPC (DHT) messages and the
// extension protocol handshake dictionary.
package bcodec

import "fmt"

// Value is any bencode-representable value. Concrete underlying types are
// String, Integer, List and Dict; any other type passed to Encode is a
// programmer error.
type Value interface{}

// String is a bencode byte string. It is not required to be valid UTF-8.
type String []byte

// Integer is a bencode signed 64-bit integer.
type Integer int64

// List is an ordered sequence of values.
type List []Value

// Dict is a mapping from byte-string keys to values. Iteration order is
// unspecified; Encode always emits keys in ascending byte-lexicographic
// order regardless of how the Dict was constructed or decoded, which is
// what makes the canonical form canonical.
type Dict map[string]Value

// Get returns the value stored under key, or nil, false if absent.
func (d Dict) Get(key string) (Value, bool) {
	v, ok := d[key]
	return v, ok
}

// GetString returns the String value stored under key.
func (d Dict) GetString(key string) (String, bool) {
	v, ok := d[key]
	if !ok {
		return nil, false
	}
	s, ok := v.(String)
	return s, ok
}

// GetInteger returns the Integer value stored under key.
func (d Dict) GetInteger(key string) (Integer, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	i, ok := v.(Integer)
	return i, ok
}

// GetList returns the List value stored under key.
func (d Dict) GetList(key string) (List, bool) {
	v, ok := d[key]
	if !ok {
		return nil, false
	}
	l, ok := v.(List)
	return l, ok
}

// GetDict returns the Dict value stored under key.
func (d Dict) GetDict(key string) (Dict, bool) {
	v, ok := d[key]
	if !ok {
		return nil, false
	}
	nested, ok := v.(Dict)
	return nested, ok
}

// Equal reports whether a and b are the same bencode value, recursively.
// Maps compare by content; NaN-like concerns do not apply since bencode has
// no floating point type.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		return ok && string(av) == string(bv)
	case Integer:
		bv, ok := b.(Integer)
		return ok && av == bv
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Dict:
		bv, ok := b.(Dict)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		panic(fmt.Sprintf("bcodec: not a Value: %T", a))
	}
}
