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

package integrationtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-nameindexer"
	elasticsearch7 "github.com/elastic/go-elasticsearch/v7"
	esapi7 "github.com/elastic/go-elasticsearch/v7/esapi"
	elasticsearch8 "github.com/elastic/go-elasticsearch/v8"
	esapi8 "github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	files = 20
	years = 30
)

func skipUnlessIntegration(t *testing.T) {
	switch strings.ToLower(os.Getenv("INTEGRATION_TESTS")) {
	case "1", "true":
	default:
		t.Skip("Skipping integration test, export INTEGRATION_TESTS=1 to run")
	}
}

func newSource(t *testing.T) nameindexer.Source {
	fs := afero.NewMemMapFs()
	for i := 0; i < files; i++ {
		var values, percents []string
		for year := 1980; year < 1980+years; year++ {
			values = append(values, fmt.Sprintf(`"%d":"%d"`, year, i+year))
			percents = append(percents, fmt.Sprintf(`"%d":"0.0%d"`, year, i+1))
		}
		content := fmt.Sprintf(`{"gender":"F","name":"Name%02d","values":{%s},"percents":{%s}}`,
			i, strings.Join(values, ","), strings.Join(percents, ","),
		)
		require.NoError(t, afero.WriteFile(fs, fmt.Sprintf("data/%02d.json", i), []byte(content), 0o644))
	}
	return nameindexer.NewDirSource(fs, "data")
}

func runDriver(t *testing.T, client nameindexer.BatchUploader) nameindexer.RunAggregate {
	driver, err := nameindexer.NewDriver(client, nameindexer.Config{BatchSize: 100, MaxRequests: 2})
	require.NoError(t, err)
	agg, err := driver.Run(context.Background(), newSource(t))
	require.NoError(t, err)
	assert.Equal(t, files*years, agg.DocumentsTransformed)
	assert.Zero(t, agg.BatchesFailed)
	return agg
}

func TestDriverIntegrationV8(t *testing.T) {
	skipUnlessIntegration(t)

	const index = "names-testing.v8"

	config := elasticsearch8.Config{}
	config.Username = "admin"
	config.Password = "changeme"
	client, err := elasticsearch8.NewClient(config)
	require.NoError(t, err)

	deleteIndex := func() {
		resp, err := esapi8.IndicesDeleteRequest{Index: []string{index}}.Do(context.Background(), client)
		require.NoError(t, err)
		defer resp.Body.Close()
	}
	deleteIndex()
	defer deleteIndex()

	require.NoError(t, nameindexer.CreateIndex(context.Background(), client, index, nameindexer.IndexSettings{Shards: 1}))
	// Creating an existing index is not an error.
	require.NoError(t, nameindexer.CreateIndex(context.Background(), client, index, nameindexer.IndexSettings{Shards: 1}))

	uploader, err := nameindexer.NewUploader(client, nameindexer.Config{Index: index, MaxRequests: 2})
	require.NoError(t, err)

	// Running twice must not duplicate documents.
	runDriver(t, uploader)
	runDriver(t, uploader)

	// Check that docs are indexed.
	resp, err := esapi8.IndicesRefreshRequest{Index: []string{index}}.Do(context.Background(), client)
	require.NoError(t, err)
	resp.Body.Close()

	var result struct {
		Count int
	}
	resp, err = esapi8.CountRequest{Index: []string{index}}.Do(context.Background(), client)
	require.NoError(t, err)
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, files*years, result.Count)
}

func TestDriverIntegrationV7(t *testing.T) {
	skipUnlessIntegration(t)

	const index = "names-testing.v7"

	config := elasticsearch7.Config{}
	config.Username = "admin"
	config.Password = "changeme"
	client, err := elasticsearch7.NewClient(config)
	require.NoError(t, err)

	deleteIndex := func() {
		resp, err := esapi7.IndicesDeleteRequest{Index: []string{index}}.Do(context.Background(), client)
		require.NoError(t, err)
		defer resp.Body.Close()
	}
	deleteIndex()
	defer deleteIndex()

	require.NoError(t, nameindexer.CreateIndex(context.Background(), client, index, nameindexer.IndexSettings{Shards: 1}))

	uploader, err := nameindexer.NewUploader(client, nameindexer.Config{Index: index, MaxRequests: 2})
	require.NoError(t, err)
	runDriver(t, uploader)

	// Check that docs are indexed.
	resp, err := esapi7.IndicesRefreshRequest{Index: []string{index}}.Do(context.Background(), client)
	require.NoError(t, err)
	resp.Body.Close()

	var result struct {
		Count int
	}
	resp, err = esapi7.CountRequest{Index: []string{index}}.Do(context.Background(), client)
	require.NoError(t, err)
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&result)
	require.NoError(t, err)
	assert.Equal(t, files*years, result.Count)
}
