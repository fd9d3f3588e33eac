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
package bcodec

import (
	"fmt"
	"sort"
	"strconv"
)

// Encode serializes v into its canonical bencode form.
func Encode(v Value) ([]byte, error) {
	var buf []byte
	buf, err := appendValue(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	switch t := v.(type) {
	case String:
		return appendString(buf, t), nil
	case Integer:
		return appendInteger(buf, t), nil
	case List:
		return appendList(buf, t)
	case Dict:
		return appendDict(buf, t)
	default:
		return nil, fmt.Errorf("bcodec: encode: unsupported value type %T", v)
	}
}

func appendString(buf []byte, s String) []byte {
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, ':')
	return append(buf, s...)
}

func appendInteger(buf []byte, i Integer) []byte {
	buf = append(buf, 'i')
	buf = strconv.AppendInt(buf, int64(i), 10)
	return append(buf, 'e')
}

func appendList(buf []byte, l List) ([]byte, error) {
	buf = append(buf, 'l')
	for _, v := range l {
		var err error
		buf, err = appendValue(buf, v)
		if err != nil {
			return nil, err
		}
	}
	return append(buf, 'e'), nil
}

func appendDict(buf []byte, d Dict) ([]byte, error) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, 'd')
	for _, k := range keys {
		buf = appendString(buf, String(k))
		var err error
		buf, err = appendValue(buf, d[k])
		if err != nil {
			return nil, err
		}
	}
	return append(buf, 'e'), nil
}
