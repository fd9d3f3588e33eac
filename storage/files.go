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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath occurs when a metainfo file entry is absolute or escapes
// the torrent's root directory via a parent reference.
var ErrInvalidPath = errors.New("storage: path must be relative and contain only normal components")

// checkRelativePath rejects absolute paths and paths containing "." or
// ".." components, so a malicious or buggy metainfo cannot write outside
// the torrent's root directory.
func checkRelativePath(p string) error {
	if p == "" {
		return ErrInvalidPath
	}
	if filepath.IsAbs(p) {
		return ErrInvalidPath
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	for _, part := range strings.Split(clean, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidPath
		}
	}
	return nil
}

// fileSpan is one file's placement within the torrent's flat byte range.
type fileSpan struct {
	info       FileInfo
	globalBase int64 // inclusive
}

func (s fileSpan) end() int64 {
	return s.globalBase + s.info.Length
}

// layoutFiles computes the byte spans of files in declaration order.
func layoutFiles(files []FileInfo) []fileSpan {
	spans := make([]fileSpan, len(files))
	var base int64
	for i, f := range files {
		spans[i] = fileSpan{info: f, globalBase: base}
		base += f.Length
	}
	return spans
}

// preallocate creates every file and empty-directory entry named by files
// under root, truncating each file to its declared length. It does not
// roll back partially created directories/files on error; the caller may
// retry, and a later scan will simply see zero-length (unverified) pieces
// for whatever wasn't finished.
func preallocate(root string, files []FileInfo) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("storage: create root dir: %s", err)
	}
	for _, f := range files {
		full := filepath.Join(root, filepath.FromSlash(f.Path))
		if f.Length == 0 && strings.HasSuffix(f.Path, "/") {
			if err := os.MkdirAll(full, 0755); err != nil {
				return fmt.Errorf("storage: preallocate dir %s: %s", f.Path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Errorf("storage: create parent dir for %s: %s", f.Path, err)
		}
		fd, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("storage: create file %s: %s", f.Path, err)
		}
		err = fd.Truncate(f.Length)
		fd.Close()
		if err != nil {
			return fmt.Errorf("storage: preallocate file %s: %s", f.Path, err)
		}
	}
	return nil
}
