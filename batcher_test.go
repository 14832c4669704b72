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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-nameindexer"
)

func TestBatcherPartition(t *testing.T) {
	for _, tc := range []struct {
		n, capacity int
		sizes       []int
	}{
		{n: 0, capacity: 500, sizes: nil},
		{n: 5, capacity: 500, sizes: []int{5}},
		{n: 500, capacity: 500, sizes: []int{500}},
		{n: 501, capacity: 500, sizes: []int{500, 1}},
		{n: 1200, capacity: 500, sizes: []int{500, 500, 200}},
		{n: 7, capacity: 1, sizes: []int{1, 1, 1, 1, 1, 1, 1}},
		{n: 10, capacity: 3, sizes: []int{3, 3, 3, 1}},
	} {
		t.Run(fmt.Sprintf("n=%d_capacity=%d", tc.n, tc.capacity), func(t *testing.T) {
			batcher, err := nameindexer.NewBatcher(tc.capacity)
			require.NoError(t, err)

			var batches []nameindexer.Batch
			for i := 0; i < tc.n; i++ {
				if batch, ok := batcher.Offer(nameindexer.Document{Year: i + 1}); ok {
					batches = append(batches, batch)
				}
			}
			if batch := batcher.Flush(); batch.Len() > 0 {
				batches = append(batches, batch)
			}
			assert.Equal(t, 0, batcher.Len())

			var sizes []int
			var years []int
			for i, batch := range batches {
				assert.Equal(t, i+1, batch.Seq)
				sizes = append(sizes, batch.Len())
				for _, doc := range batch.Documents {
					years = append(years, doc.Year)
				}
			}
			assert.Equal(t, tc.sizes, sizes)
			require.Len(t, years, tc.n)
			for i, year := range years {
				assert.Equal(t, i+1, year)
			}
		})
	}
}

func TestBatcherFlushEmpty(t *testing.T) {
	batcher, err := nameindexer.NewBatcher(2)
	require.NoError(t, err)
	assert.Equal(t, nameindexer.Batch{}, batcher.Flush())

	_, ok := batcher.Offer(nameindexer.Document{Name: "Mary"})
	assert.False(t, ok)
	assert.Equal(t, 1, batcher.Len())
	batch := batcher.Flush()
	assert.Equal(t, 1, batch.Seq)
	assert.Equal(t, 1, batch.Len())
	assert.Equal(t, nameindexer.Batch{}, batcher.Flush())
}

func TestBatcherClosedBatchNotReused(t *testing.T) {
	batcher, err := nameindexer.NewBatcher(2)
	require.NoError(t, err)
	batcher.Offer(nameindexer.Document{Name: "a"})
	first, ok := batcher.Offer(nameindexer.Document{Name: "b"})
	require.True(t, ok)
	batcher.Offer(nameindexer.Document{Name: "c"})
	batcher.Offer(nameindexer.Document{Name: "d"})
	assert.Equal(t, "a", first.Documents[0].Name)
	assert.Equal(t, "b", first.Documents[1].Name)
}

func TestNewBatcherInvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		_, err := nameindexer.NewBatcher(capacity)
		assert.Error(t, err)
	}
}
