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
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBencodeRoundTripLiteral(t *testing.T) {
	require := require.New(t)

	input := []byte("d4:spaml1:a1:bee")

	v, err := Decode(input)
	require.NoError(err)

	dict, ok := v.(Dict)
	require.True(ok)
	list, ok := dict.GetList("spam")
	require.True(ok)
	require.Len(list, 2)
	require.Equal(String("a"), list[0])
	require.Equal(String("b"), list[1])

	out, err := Encode(v)
	require.NoError(err)
	require.Equal(input, out)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	require := require.New(t)

	values := []Value{
		String(""),
		String("hello world"),
		Integer(0),
		Integer(-1),
		Integer(math.MaxInt64),
		Integer(math.MinInt64),
		List{},
		List{Integer(1), String("two"), List{Integer(3)}},
		Dict{"a": Integer(1), "b": List{String("x")}, "z": Dict{"nested": Integer(2)}},
	}
	for _, v := range values {
		encoded, err := Encode(v)
		require.NoError(err)

		decoded, err := Decode(encoded)
		require.NoError(err)
		require.True(Equal(v, decoded))

		reencoded, err := Encode(decoded)
		require.NoError(err)
		require.Equal(encoded, reencoded)
	}
}

func TestDecodeRejectsNonCanonicalInteger(t *testing.T) {
	require := require.New(t)

	for _, input := range []string{"i01e", "i-0e", "i00e"} {
		_, err := Decode([]byte(input))
		require.Error(err, input)

		// Lenient accepts it.
		_, err = DecodeLenient([]byte(input))
		require.NoError(err, input)
	}
}

func TestDecodeRejectsOutOfOrderKeys(t *testing.T) {
	require := require.New(t)

	input := []byte("d1:b1:x1:a1:ye")

	_, err := Decode(input)
	require.Error(err)

	v, err := DecodeLenient(input)
	require.NoError(err)
	dict := v.(Dict)
	s, _ := dict.GetString("a")
	require.Equal("y", string(s))
}

func TestDecodeRejectsDuplicateKeys(t *testing.T) {
	require := require.New(t)

	_, err := Decode([]byte("d1:a1:x1:a1:ye"))
	require.Error(err)
}

func TestDecodeIntegerOverflow(t *testing.T) {
	require := require.New(t)

	_, err := Decode([]byte("i99999999999999999999999999e"))
	require.Error(err)
}

func TestDecodeTrailingBytesIsError(t *testing.T) {
	require := require.New(t)

	_, err := Decode([]byte("i1eGARBAGE"))
	require.ErrorIs(err, ErrTrailingBytes)
}

func TestDecodeTruncatedStringIsError(t *testing.T) {
	require := require.New(t)

	_, err := Decode([]byte("5:ab"))
	require.Error(err)
}

func TestDecoderMultipleValuesOffSameBuffer(t *testing.T) {
	require := require.New(t)

	d := NewDecoder([]byte("i1ei2ei3e"), true)
	var got []Value
	for d.Pos() < 9 {
		v, err := d.Decode()
		require.NoError(err)
		got = append(got, v)
	}
	require.Equal([]Value{Integer(1), Integer(2), Integer(3)}, got)
}

func TestStringIsZeroCopy(t *testing.T) {
	require := require.New(t)

	buf := []byte("4:spam")
	v, err := Decode(buf)
	require.NoError(err)
	s := v.(String)

	// The decoded String shares the backing array with buf.
	buf[2] = 'x'
	require.Equal(byte('x'), s[0])
}
