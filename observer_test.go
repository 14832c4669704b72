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

package nameindexer_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-nameindexer"
)

func TestOutcomeLog(t *testing.T) {
	var buf bytes.Buffer
	log := nameindexer.NewOutcomeLog(&buf)
	log.BatchCompleted(nameindexer.BatchOutcome{
		Seq:       1,
		Took:      12 * time.Millisecond,
		ItemCount: 500,
		Indexed:   500,
	}, nameindexer.RunAggregate{})
	log.BatchCompleted(nameindexer.BatchOutcome{
		Seq: 2,
		Err: &nameindexer.BatchUploadError{Seq: 2, Err: errors.New(`connection "reset"`)},
	}, nameindexer.RunAggregate{})
	log.RunCompleted(nameindexer.RunAggregate{
		FilesFound:           2,
		FilesSeen:            2,
		DocumentsTransformed: 500,
		BatchesSucceeded:     1,
		BatchesFailed:        1,
	}, errors.New("aborted"))
	require.NoError(t, log.Err())

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `{"seq":1,"took":12,"errors":false,"items":500,"failed":0}`, lines[0])
	assert.JSONEq(t, `{"seq":2,"took":0,"errors":true,"items":0,"failed":0,"error":"bulk request for batch 2 failed: connection \"reset\""}`, lines[1])
	assert.JSONEq(t, `{"summary":{"files_found":2,"files_seen":2,"files_skipped":0,"documents_transformed":500,"documents_malformed":0,"batches_succeeded":1,"batches_failed":1},"error":"aborted"}`, lines[2])
}

type errWriter struct{ n int }

func (w *errWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("disk full")
}

func TestOutcomeLogWriteError(t *testing.T) {
	w := &errWriter{}
	log := nameindexer.NewOutcomeLog(w)
	log.BatchCompleted(nameindexer.BatchOutcome{Seq: 1}, nameindexer.RunAggregate{})
	log.RunCompleted(nameindexer.RunAggregate{}, nil)
	assert.EqualError(t, log.Err(), "disk full")
	// Writing stops after the first error.
	assert.Equal(t, 1, w.n)
}

type countingObserver struct {
	batches, runs int
}

func (o *countingObserver) BatchCompleted(nameindexer.BatchOutcome, nameindexer.RunAggregate) {
	o.batches++
}

func (o *countingObserver) RunCompleted(nameindexer.RunAggregate, error) {
	o.runs++
}

func TestMultiObserver(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	obs := nameindexer.MultiObserver(a, nameindexer.NopObserver{}, b)
	obs.BatchCompleted(nameindexer.BatchOutcome{}, nameindexer.RunAggregate{})
	obs.BatchCompleted(nameindexer.BatchOutcome{}, nameindexer.RunAggregate{})
	obs.RunCompleted(nameindexer.RunAggregate{}, nil)
	assert.Equal(t, &countingObserver{batches: 2, runs: 1}, a)
	assert.Equal(t, &countingObserver{batches: 2, runs: 1}, b)
}

func TestBatchOutcomeSucceeded(t *testing.T) {
	assert.True(t, nameindexer.BatchOutcome{}.Succeeded())
	assert.False(t, nameindexer.BatchOutcome{HasErrors: true}.Succeeded())
	assert.False(t, nameindexer.BatchOutcome{Err: errors.New("x")}.Succeeded())
}
