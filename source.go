// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package nameindexer

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Source lists and reads the input files of a run.
type Source interface {
	// List returns the names of the input files, in the order they are
	// processed.
	List(ctx context.Context) ([]string, error)

	// Read returns the contents of the named input file.
	Read(ctx context.Context, name string) ([]byte, error)
}

// DirSource is a Source reading the regular files of a single directory.
// Subdirectories are ignored.
type DirSource struct {
	fs  afero.Fs
	dir string

	// Ext, when set, restricts the listing to names with this extension,
	// for example ".json".
	Ext string
}

// NewDirSource returns a DirSource listing dir on fs. A nil fs reads the
// operating system's filesystem.
func NewDirSource(fs afero.Fs, dir string) *DirSource {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &DirSource{fs: fs, dir: dir}
}

// List returns the names of the regular files in the directory, sorted by name.
func (s *DirSource) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() {
			continue
		}
		if s.Ext != "" && !strings.EqualFold(filepath.Ext(info.Name()), s.Ext) {
			continue
		}
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the contents of the file name in the directory.
func (s *DirSource) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return afero.ReadFile(s.fs, filepath.Join(s.dir, name))
}
