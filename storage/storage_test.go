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
package storage

import (
	"bytes"
	"crypto/sha1"
	"io"
	"testing"

	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/require"

	"github.com/torrentd/peerstack/layout"
)

// buildTorrentBytes constructs a minimal, valid multi-file .torrent body
// (the bencoded info dict) for two files whose combined content is
// provided, split into pieceLen-sized pieces.
func buildMetainfoBytes(t *testing.T, files map[string][]byte, pieceLen int64) ([]byte, []byte) {
	t.Helper()

	names := []string{"a.txt", "b.txt"}
	var whole []byte
	var rawFiles []FileInfo
	for _, n := range names {
		whole = append(whole, files[n]...)
		rawFiles = append(rawFiles, FileInfo{Path: n, Length: int64(len(files[n]))})
	}

	var pieces []byte
	for off := int64(0); off < int64(len(whole)); off += pieceLen {
		end := off + pieceLen
		if end > int64(len(whole)) {
			end = int64(len(whole))
		}
		sum := sha1.Sum(whole[off:end])
		pieces = append(pieces, sum[:]...)
	}

	info := rawInfo{
		Name:        "mytorrent",
		PieceLength: pieceLen,
		Pieces:      string(pieces),
		Files:       []FileInfo{{Path: rawFiles[0].Path, Length: rawFiles[0].Length}, {Path: rawFiles[1].Path, Length: rawFiles[1].Length}},
	}
	mi := rawMetainfo{Info: info}

	var buf bytes.Buffer
	require.NoError(t, bencode.Marshal(&buf, mi))
	return buf.Bytes(), whole
}

func TestParseMetainfoAndRoundTripReadWrite(t *testing.T) {
	require := require.New(t)

	files := map[string][]byte{
		"a.txt": bytes.Repeat([]byte("A"), 10),
		"b.txt": bytes.Repeat([]byte("B"), 6),
	}
	raw, whole := buildMetainfoBytes(t, files, 8)

	meta, err := ParseMetainfo(bytes.NewReader(raw))
	require.NoError(err)
	require.Equal(int64(len(whole)), meta.Layout.Size())
	require.Equal(2, meta.Layout.NumPieces())

	dir := t.TempDir()
	tor, err := New(meta, dir)
	require.NoError(err)

	for i := 0; i < meta.Layout.NumPieces(); i++ {
		pieceLen := meta.Layout.PieceLen(i)
		start := meta.Layout.PieceOffset(i)
		data := whole[start : start+pieceLen]
		ok, err := tor.WritePiece(i, data)
		require.NoError(err)
		require.True(ok, "piece %d should verify", i)
	}

	require.True(tor.Complete())
	require.Empty(tor.MissingPieces())

	// Read the whole thing back across both pieces and both files.
	buf := make([]byte, len(whole))
	require.NoError(tor.Read(layout.BlockRange{Piece: 0, Offset: 0, Size: meta.Layout.PieceLen(0)}, buf[:meta.Layout.PieceLen(0)]))
	require.NoError(tor.Read(layout.BlockRange{Piece: 1, Offset: 0, Size: meta.Layout.PieceLen(1)}, buf[meta.Layout.PieceLen(0):]))
	require.Equal(whole, buf)

	// Re-scanning from disk should confirm both pieces independently.
	bf, err := tor.Scan()
	require.NoError(err)
	require.Equal(uint(2), bf.Count())
}

func TestWritePieceRejectsWrongHash(t *testing.T) {
	require := require.New(t)

	files := map[string][]byte{
		"a.txt": bytes.Repeat([]byte("A"), 8),
		"b.txt": bytes.Repeat([]byte("B"), 8),
	}
	raw, _ := buildMetainfoBytes(t, files, 8)
	meta, err := ParseMetainfo(bytes.NewReader(raw))
	require.NoError(err)

	dir := t.TempDir()
	tor, err := New(meta, dir)
	require.NoError(err)

	ok, err := tor.WritePiece(0, bytes.Repeat([]byte("X"), 8))
	require.NoError(err)
	require.False(ok)
	require.False(tor.HasPiece(0))
}

func TestWritePieceRejectsAlreadyComplete(t *testing.T) {
	require := require.New(t)

	files := map[string][]byte{
		"a.txt": bytes.Repeat([]byte("A"), 8),
		"b.txt": bytes.Repeat([]byte("B"), 8),
	}
	raw, whole := buildMetainfoBytes(t, files, 8)
	meta, err := ParseMetainfo(bytes.NewReader(raw))
	require.NoError(err)

	dir := t.TempDir()
	tor, err := New(meta, dir)
	require.NoError(err)

	ok, err := tor.WritePiece(0, whole[:8])
	require.NoError(err)
	require.True(ok)

	_, err = tor.WritePiece(0, whole[:8])
	require.ErrorIs(err, ErrPieceComplete)
}

func TestCheckRelativePathRejectsEscapes(t *testing.T) {
	require := require.New(t)

	for _, p := range []string{"/etc/passwd", "../escape", "a/../../b", ""} {
		require.Error(checkRelativePath(p), p)
	}
	require.NoError(checkRelativePath("a/b/c.txt"))
}

func TestGetPieceReaderRequiresComplete(t *testing.T) {
	require := require.New(t)

	files := map[string][]byte{
		"a.txt": bytes.Repeat([]byte("A"), 8),
		"b.txt": bytes.Repeat([]byte("B"), 8),
	}
	raw, whole := buildMetainfoBytes(t, files, 8)
	meta, err := ParseMetainfo(bytes.NewReader(raw))
	require.NoError(err)

	dir := t.TempDir()
	tor, err := New(meta, dir)
	require.NoError(err)

	_, err = tor.GetPieceReader(0)
	require.Error(err)

	ok, err := tor.WritePiece(0, whole[:8])
	require.NoError(err)
	require.True(ok)

	r, err := tor.GetPieceReader(0)
	require.NoError(err)
	data, err := io.ReadAll(r)
	require.NoError(err)
	require.Equal(whole[:8], data)
}
