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
	"errors"
	"sync/atomic"
)

// BulkIndexerPool is a pool of BulkIndexer instances bounding the number of
// bulk requests in flight. It is designed to be used in a concurrent
// environment where multiple goroutines may need to acquire and release
// indexers.
//
// At most max indexers are leased at any time. Released indexers are kept for
// reuse so their buffers are not reallocated for every request.
type BulkIndexerPool struct {
	indexers chan *BulkIndexer
	slots    chan struct{}
	leased   atomic.Int64

	// Read only fields.
	max    int64
	config BulkIndexerConfig
}

// NewBulkIndexerPool returns a new BulkIndexerPool leasing at most max
// indexers created from c.
func NewBulkIndexerPool(max int, c BulkIndexerConfig) (*BulkIndexerPool, error) {
	if max <= 0 {
		return nil, errors.New("bulk indexer pool size must be greater than zero")
	}
	if _, err := NewBulkIndexer(c); err != nil {
		return nil, err
	}
	return &BulkIndexerPool{
		indexers: make(chan *BulkIndexer, max),
		slots:    make(chan struct{}, max),
		max:      int64(max),
		config:   c,
	}, nil
}

// Get returns an empty BulkIndexer. If max indexers are already leased, Get
// waits until one is returned with Put, or until ctx is done.
func (p *BulkIndexerPool) Get(ctx context.Context) (*BulkIndexer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.slots <- struct{}{}:
	}
	p.leased.Add(1)
	select {
	case idx := <-p.indexers:
		return idx, nil
	default:
	}
	// The config was validated by NewBulkIndexerPool.
	idx, _ := NewBulkIndexer(p.config)
	return idx, nil
}

// Put returns the BulkIndexer to the pool, freeing its slot. The indexer is
// reset and must not be used by the caller afterwards.
func (p *BulkIndexerPool) Put(indexer *BulkIndexer) {
	if indexer == nil {
		return
	}
	indexer.Reset()
	select {
	case p.indexers <- indexer:
	default:
	}
	p.leased.Add(-1)
	<-p.slots
}

// Leased returns the number of indexers currently leased.
func (p *BulkIndexerPool) Leased() int64 {
	return p.leased.Load()
}

// Max returns the maximum number of indexers leased at once.
func (p *BulkIndexerPool) Max() int64 {
	return p.max
}
