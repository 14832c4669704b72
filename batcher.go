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

// Batch is a contiguous group of documents sent in one bulk request.
type Batch struct {
	// Seq numbers batches from 1 in the order they were closed. It is zero
	// for an empty batch returned by Batcher.Flush.
	Seq       int
	Documents []Document
}

// Len returns the number of documents in b.
func (b Batch) Len() int {
	return len(b.Documents)
}

// Batcher accumulates documents into batches of a fixed capacity.
//
// Batcher is not safe for concurrent use.
type Batcher struct {
	capacity int
	buf      []Document
	seq      int
}

// NewBatcher returns a Batcher closing a batch every capacity documents.
func NewBatcher(capacity int) (*Batcher, error) {
	if capacity <= 0 {
		return nil, errEmptyCapacity
	}
	return &Batcher{
		capacity: capacity,
		buf:      make([]Document, 0, capacity),
	}, nil
}

// Offer appends doc to the current batch. When the batch reaches capacity it
// is returned along with true, and a new empty batch is started.
func (b *Batcher) Offer(doc Document) (Batch, bool) {
	b.buf = append(b.buf, doc)
	if len(b.buf) < b.capacity {
		return Batch{}, false
	}
	return b.close(), true
}

// Flush returns the current batch, which may be empty, and starts a new one.
func (b *Batcher) Flush() Batch {
	if len(b.buf) == 0 {
		return Batch{}
	}
	return b.close()
}

// Len returns the number of documents in the current batch.
func (b *Batcher) Len() int {
	return len(b.buf)
}

func (b *Batcher) close() Batch {
	b.seq++
	batch := Batch{Seq: b.seq, Documents: b.buf}
	// The closed batch may still be uploading, so never reuse its array.
	b.buf = make([]Document, 0, b.capacity)
	return batch
}
