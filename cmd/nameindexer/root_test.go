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

package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-nameindexer/nameindexertest"
)

type testEnv struct {
	url     string
	index   *nameindexertest.MockIndex
	created atomic.Int64
	dataDir string
}

func newTestEnv(t *testing.T, files map[string]string) *testEnv {
	env := &testEnv{index: nameindexertest.NewMockIndex()}
	mux := http.NewServeMux()
	nameindexertest.HandleBulk(mux, env.index.ServeHTTP)
	nameindexertest.Handle(mux, "/names", func(w http.ResponseWriter, r *http.Request) {
		env.created.Add(1)
		w.Write([]byte(`{"acknowledged":true}`))
	})
	env.url = nameindexertest.NewMockServerConfig(t, mux).Addresses[0]

	env.dataDir = t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(env.dataDir, name), []byte(content), 0o644))
	}
	return env
}

func execRootCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	rc := newRootCommand(&out, &errOut)
	rc.SetArgs(args)
	err = rc.Execute()
	return out.String(), errOut.String(), err
}

func record(name, gender string, years ...int) string {
	var values, percents []string
	for i, year := range years {
		values = append(values, fmt.Sprintf(`"%d":"%d"`, year, i+1))
		percents = append(percents, fmt.Sprintf(`"%d":"0.5"`, year))
	}
	return fmt.Sprintf(`{"gender":%q,"name":%q,"values":{%s},"percents":{%s}}`,
		gender, name, strings.Join(values, ","), strings.Join(percents, ","),
	)
}

func TestRootCommandHelp(t *testing.T) {
	out, _, err := execRootCommand(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "--data-dir")
	assert.Contains(t, out, "--es-url")
}

func TestRootCommandUpload(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"mary.json": record("Mary", "F", 2000, 2001, 2002),
		"john.json": record("John", "M", 2000, 2001),
	})
	outcomeLog := filepath.Join(t.TempDir(), "outcomes.log")

	out, _, err := execRootCommand(t,
		"--data-dir", env.dataDir,
		"--es-url", env.url,
		"--index", "names",
		"--outcome-log", outcomeLog,
		"--log-level", "error",
	)
	require.NoError(t, err)
	assert.Equal(t, `- Done! -
Files found: 2
Files processed: 2
Uploads performed: 1
Total documents: 5
`, out)
	assert.Equal(t, 5, env.index.Len())
	_, ok := env.index.Get("2002-Mary-F")
	assert.True(t, ok)
	assert.Zero(t, env.created.Load())

	data, err := os.ReadFile(outcomeLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"seq":1`)
	assert.Contains(t, lines[1], `"summary"`)
}

func TestRootCommandCreateIndex(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"mary.json": record("Mary", "F", 2000),
	})
	_, _, err := execRootCommand(t,
		"--data-dir", env.dataDir,
		"--es-url", env.url,
		"--create-index",
		"--identity-key", "name-gender-year",
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), env.created.Load())
	_, ok := env.index.Get("Mary-F-2000")
	assert.True(t, ok)
}

func TestRootCommandEnvironment(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"mary.json": record("Mary", "F", 2000, 2001, 2002, 2003, 2004),
	})
	t.Setenv("NAMEINDEXER_ES_URL", env.url)
	t.Setenv("NAMEINDEXER_BATCH_SIZE", "2")
	t.Setenv("NAMEINDEXER_DATA_DIR", env.dataDir)

	out, _, err := execRootCommand(t, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "Uploads performed: 3\n")
	assert.Equal(t, 3, env.index.Requests())
}

func TestRootCommandConfigFile(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"mary.json": record("Mary", "F", 2000, 2001, 2002),
	})
	config := filepath.Join(t.TempDir(), "nameindexer.toml")
	require.NoError(t, os.WriteFile(config, []byte(fmt.Sprintf(`
data-dir = %q
es-url = [%q]
batch-size = 1
`, env.dataDir, env.url)), 0o644))

	// Flags take precedence over the configuration file.
	out, _, err := execRootCommand(t, "--config", config, "--batch-size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Uploads performed: 2\n")
	assert.Equal(t, 2, env.index.Requests())
}

func TestRootCommandInvalidConfigFile(t *testing.T) {
	config := filepath.Join(t.TempDir(), "nameindexer.toml")
	require.NoError(t, os.WriteFile(config, []byte(`unknown-option = 1`), 0o644))

	_, _, err := execRootCommand(t, "--config", config)
	assert.EqualError(t, err, "invalid option in configuration file: unknown-option")
}

func TestRootCommandParseError(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"a.json": record("Ann", "F", 2000),
		"b.json": `{"gender":`,
	})
	args := []string{"--data-dir", env.dataDir, "--es-url", env.url, "--log-level", "error"}

	out, _, err := execRootCommand(t, args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse b.json")
	assert.Contains(t, out, "Files processed: 2\n")
	assert.Zero(t, env.index.Requests())

	out, _, err = execRootCommand(t, append(args, "--on-file-error", "skip")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Files skipped: 1\n")
	assert.Contains(t, out, "Uploads performed: 1\n")
}

func TestRootCommandBatchFailureExitsCleanly(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"a.json": record("Ann", "F", 2000, 2001),
	})
	env.index.Reject = func(nameindexertest.BulkAction) bool { return true }

	out, stderr, err := execRootCommand(t, "--data-dir", env.dataDir, "--es-url", env.url)
	require.NoError(t, err)
	assert.Contains(t, out, "Uploads performed: 0\n")
	assert.Contains(t, out, "Uploads failed: 1\n")
	assert.Contains(t, stderr, "mapper_parsing_exception")
}

func TestRootCommandInvalidFlags(t *testing.T) {
	for _, args := range [][]string{
		{"--identity-key", "year-name"},
		{"--on-malformed", "coerce"},
		{"--log-level", "verbose"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, _, err := execRootCommand(t, append(args, "--data-dir", t.TempDir())...)
			assert.Error(t, err)
		})
	}
}
