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

// Package nameindexertest provides a mock Elasticsearch server for testing
// bulk uploads.
package nameindexertest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/metric/metricdata/metricdatatest"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// TimestampFormat holds the time format for formatting timestamps according to
// Elasticsearch's strict_date_optional_time date format, which includes a fractional
// seconds component.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// BulkAction holds a single decoded action of a /_bulk request.
type BulkAction struct {
	// Action holds the action type, for example "index".
	Action string
	Index  string
	ID     string
	// Source holds the document line following the action.
	Source []byte
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded
// actions and a response body reporting every action as created.
func DecodeBulkRequest(r *http.Request) ([]BulkAction, esutil.BulkIndexerResponse) {
	body := r.Body
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer r.Close()
		body = r
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var actions []BulkAction
	var result esutil.BulkIndexerResponse
	for scanner.Scan() {
		action := make(map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		})
		if err := json.NewDecoder(strings.NewReader(scanner.Text())).Decode(&action); err != nil {
			panic(err)
		}
		var decoded BulkAction
		for actionType, meta := range action {
			decoded.Action = actionType
			decoded.Index = meta.Index
			decoded.ID = meta.ID
		}
		if !scanner.Scan() {
			panic("expected source")
		}

		decoded.Source = append([]byte{}, scanner.Bytes()...)
		if !json.Valid(decoded.Source) {
			panic(fmt.Errorf("invalid JSON: %s", decoded.Source))
		}
		actions = append(actions, decoded)

		item := esutil.BulkIndexerResponseItem{
			Index:      decoded.Index,
			DocumentID: decoded.ID,
			Status:     http.StatusCreated,
			Result:     "created",
		}
		result.Items = append(result.Items, map[string]esutil.BulkIndexerResponseItem{decoded.Action: item})
	}
	return actions, result
}

// NewMockElasticsearchClient returns an elasticsearch.Client which sends /_bulk requests to bulkHandler.
func NewMockElasticsearchClient(t testing.TB, bulkHandler http.HandlerFunc) *elasticsearch.Client {
	config := NewMockElasticsearchClientConfig(t, bulkHandler)
	client, err := elasticsearch.NewClient(config)
	require.NoError(t, err)
	return client
}

// NewMockElasticsearchClientConfig starts an httptest.Server, and returns an elasticsearch.Config which
// sends /_bulk requests to bulkHandler. The httptest.Server will be closed via t.Cleanup.
func NewMockElasticsearchClientConfig(t testing.TB, bulkHandler http.HandlerFunc) elasticsearch.Config {
	mux := http.NewServeMux()
	HandleBulk(mux, bulkHandler)
	return NewMockServerConfig(t, mux)
}

// NewMockServerConfig starts an httptest.Server serving mux, and returns an
// elasticsearch.Config for it. The httptest.Server will be closed via t.Cleanup.
func NewMockServerConfig(t testing.TB, mux *http.ServeMux) elasticsearch.Config {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	config := elasticsearch.Config{}
	config.Addresses = []string{srv.URL}
	config.DisableRetry = true
	config.Transport = apmelasticsearch.WrapRoundTripper(http.DefaultTransport)

	return config
}

// HandleBulk registers bulkHandler with mux for handling /_bulk requests,
// wrapping bulkHandler to conform with go-elasticsearch version checking.
func HandleBulk(mux *http.ServeMux, bulkHandler http.HandlerFunc) {
	Handle(mux, "/_bulk", bulkHandler)
}

// Handle registers handler with mux for pattern, wrapping handler to conform
// with go-elasticsearch version checking.
func Handle(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler.ServeHTTP(w, r)
	})
}

// MockIndex is an in-memory index serving /_bulk requests. Index actions
// create or overwrite the document with the action's _id.
type MockIndex struct {
	// Reject, if set, is called for every action. Rejected actions are
	// answered with a 400 mapper_parsing_exception and are not stored.
	Reject func(BulkAction) bool

	mu       sync.Mutex
	docs     map[string]json.RawMessage
	requests int
}

// NewMockIndex returns an empty MockIndex.
func NewMockIndex() *MockIndex {
	return &MockIndex{docs: make(map[string]json.RawMessage)}
}

// ServeHTTP handles a /_bulk request.
func (m *MockIndex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actions, result := DecodeBulkRequest(r)

	m.mu.Lock()
	m.requests++
	for i, action := range actions {
		item := result.Items[i][action.Action]
		switch {
		case m.Reject != nil && m.Reject(action):
			item.Status = http.StatusBadRequest
			item.Result = ""
			item.Error.Type = "mapper_parsing_exception"
			item.Error.Reason = fmt.Sprintf("failed to parse document %s", action.ID)
			result.HasErrors = true
		default:
			if _, ok := m.docs[action.ID]; ok {
				item.Status = http.StatusOK
				item.Result = "updated"
			}
			m.docs[action.ID] = append(json.RawMessage{}, action.Source...)
		}
		result.Items[i][action.Action] = item
	}
	m.mu.Unlock()

	json.NewEncoder(w).Encode(result)
}

// Len returns the number of stored documents.
func (m *MockIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Get returns the stored document with the given id.
func (m *MockIndex) Get(id string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	return doc, ok
}

// Requests returns the number of /_bulk requests served.
func (m *MockIndex) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// AssertOTelMetrics calls assertFn for each of ms, in name order.
func AssertOTelMetrics(t testing.TB, ms []metricdata.Metrics, assertFn func(m metricdata.Metrics)) {
	t.Helper()
	sorted := append([]metricdata.Metrics{}, ms...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	for _, m := range sorted {
		assertFn(m)
	}
}

// NewAssertCounter returns a function asserting that an int64 counter holds
// a single data point with value count and attributes attrs. Every call
// increments asserted.
func NewAssertCounter(t testing.TB, asserted *atomic.Int64) func(metric metricdata.Metrics, count int64, attrs attribute.Set) {
	return func(metric metricdata.Metrics, count int64, attrs attribute.Set) {
		t.Helper()
		asserted.Add(1)
		counter, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok, "%s is not an int64 counter", metric.Name)
		require.Len(t, counter.DataPoints, 1, metric.Name)
		dp := counter.DataPoints[0]
		assert.Equal(t, count, dp.Value, metric.Name)
		metricdatatest.AssertHasAttributes(t, dp, attrs.ToSlice()...)
	}
}

// CounterValues returns the data points of the int64 counter named name,
// keyed by the value of the "status" attribute. Data points without a status
// are keyed by "".
func CounterValues(ms []metricdata.Metrics, name string) map[string]int64 {
	values := make(map[string]int64)
	for _, m := range ms {
		if m.Name != name {
			continue
		}
		counter, ok := m.Data.(metricdata.Sum[int64])
		if !ok {
			continue
		}
		for _, dp := range counter.DataPoints {
			status, _ := dp.Attributes.Value(attribute.Key("status"))
			values[status.AsString()] += dp.Value
		}
	}
	return values
}
