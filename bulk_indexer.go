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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unsafe"

	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
)

// BulkIndexerConfig holds configuration for BulkIndexer.
type BulkIndexerConfig struct {
	// Client holds the Elasticsearch client.
	Client esapi.Transport

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int

	// Pipeline holds the ingest pipeline ID.
	//
	// If Pipeline is empty, no ingest pipeline will be specified in the Bulk request.
	Pipeline string
}

// BulkIndexer encodes items into a single _bulk request body, and sends it
// when flushed. Every item is written with the "index" action, so an item
// carrying the ID of an existing document replaces that document.
type BulkIndexer struct {
	config       BulkIndexerConfig
	itemsAdded   int
	bytesFlushed int
	jsonw        fastjson.Writer
	writer       io.Writer
	gzipw        *gzip.Writer
	buf          bytes.Buffer
}

// BulkIndexerResponseStat summarises a _bulk response.
type BulkIndexerResponseStat struct {
	// Took holds the server-side processing time in milliseconds.
	Took int64
	// HasErrors reports the "errors" flag of the response.
	HasErrors bool
	// Items holds the number of items acknowledged in the response.
	Items      int
	Indexed    int64
	FailedDocs []BulkIndexerResponseItem
}

// BulkIndexerResponseItem represents the Elasticsearch response item.
type BulkIndexerResponseItem struct {
	Index      string `json:"_index"`
	DocumentID string `json:"_id"`
	Status     int    `json:"status"`

	Position int

	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func init() {
	jsoniter.RegisterTypeDecoderFunc("nameindexer.BulkIndexerResponseStat", func(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
		stat := (*BulkIndexerResponseStat)(ptr)
		iter.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
			switch s {
			case "took":
				stat.Took = i.ReadInt64()
			case "errors":
				stat.HasErrors = i.ReadBool()
			case "items":
				i.ReadArrayCB(func(i *jsoniter.Iterator) bool {
					return i.ReadMapCB(func(i *jsoniter.Iterator, action string) bool {
						item := readResponseItem(i)
						item.Position = stat.Items
						stat.Items++
						if item.Error.Type != "" || item.Status > 201 {
							stat.FailedDocs = append(stat.FailedDocs, item)
						} else {
							stat.Indexed++
						}
						return true
					})
				})
			default:
				i.Skip()
			}
			return true
		})
	})
}

func readResponseItem(i *jsoniter.Iterator) BulkIndexerResponseItem {
	var item BulkIndexerResponseItem
	i.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
		switch s {
		case "_index":
			item.Index = i.ReadString()
		case "_id":
			item.DocumentID = i.ReadString()
		case "status":
			item.Status = i.ReadInt()
		case "error":
			i.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
				switch s {
				case "type":
					item.Error.Type = i.ReadString()
				case "reason":
					// Match Elasticsearch field mapper field value:
					// failed to parse field [%s] of type [%s] in %s. Preview of field's value: '%s'
					item.Error.Reason, _, _ = strings.Cut(
						i.ReadString(), ". Preview",
					)
				default:
					i.Skip()
				}
				return true
			})
		default:
			i.Skip()
		}
		return true
	})
	return item
}

// NewBulkIndexer returns a bulk indexer that issues bulk requests to Elasticsearch.
// It is only tested with v7 and v8 go-elasticsearch clients.
func NewBulkIndexer(cfg BulkIndexerConfig) (*BulkIndexer, error) {
	if cfg.Client == nil {
		return nil, errNilClient
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	b := &BulkIndexer{config: cfg}
	if cfg.CompressionLevel != gzip.NoCompression {
		b.gzipw, _ = gzip.NewWriterLevel(&b.buf, cfg.CompressionLevel)
		b.writer = b.gzipw
	} else {
		b.writer = &b.buf
	}
	return b, nil
}

// Reset resets bulk indexer, ready for a new request.
func (b *BulkIndexer) Reset() {
	b.bytesFlushed = 0
	b.resetBuf()
}

func (b *BulkIndexer) resetBuf() {
	b.itemsAdded = 0
	b.buf.Reset()
	if b.gzipw != nil {
		b.gzipw.Reset(&b.buf)
	}
}

// Items returns the number of buffered items.
func (b *BulkIndexer) Items() int {
	return b.itemsAdded
}

// Len returns the number of buffered bytes.
func (b *BulkIndexer) Len() int {
	return b.buf.Len()
}

// BytesFlushed returns the number of bytes flushed by the bulk indexer.
func (b *BulkIndexer) BytesFlushed() int {
	return b.bytesFlushed
}

// BulkIndexerItem is a single document to be written by a bulk request.
type BulkIndexerItem struct {
	Index      string
	DocumentID string
	Body       io.WriterTo
}

// Add encodes an item in the buffer.
func (b *BulkIndexer) Add(item BulkIndexerItem) error {
	if err := b.writeMeta(item.Index, item.DocumentID); err != nil {
		return fmt.Errorf("failed to write bulk indexer action: %w", err)
	}
	if _, err := item.Body.WriteTo(b.writer); err != nil {
		return fmt.Errorf("failed to write bulk indexer item: %w", err)
	}
	if _, err := b.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	b.itemsAdded++
	return nil
}

func (b *BulkIndexer) writeMeta(index, documentID string) error {
	b.jsonw.RawString(`{"index":{`)
	if documentID != "" {
		b.jsonw.RawString(`"_id":`)
		b.jsonw.String(documentID)
	}
	if index != "" {
		if documentID != "" {
			b.jsonw.RawByte(',')
		}
		b.jsonw.RawString(`"_index":`)
		b.jsonw.String(index)
	}
	b.jsonw.RawString("}}\n")
	_, err := b.writer.Write(b.jsonw.Bytes())
	b.jsonw.Reset()
	return err
}

// Flush executes a bulk request if there are any items buffered, and clears out the buffer.
func (b *BulkIndexer) Flush(ctx context.Context) (BulkIndexerResponseStat, error) {
	if b.itemsAdded == 0 {
		return BulkIndexerResponseStat{}, nil
	}

	if b.gzipw != nil {
		if err := b.gzipw.Close(); err != nil {
			return BulkIndexerResponseStat{}, fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Body:   &b.buf,
		Header: make(http.Header),
		FilterPath: []string{
			"took", "errors",
			"items.*._index", "items.*._id", "items.*.status",
			"items.*.error.type", "items.*.error.reason",
		},
		Pipeline: b.config.Pipeline,
	}
	if b.gzipw != nil {
		req.Header.Set("Content-Encoding", "gzip")
	}

	bytesFlushed := b.buf.Len()
	res, err := req.Do(ctx, b.config.Client)
	if err != nil {
		b.resetBuf()
		return BulkIndexerResponseStat{}, fmt.Errorf("failed to execute the request: %w", err)
	}
	defer res.Body.Close()

	b.resetBuf()

	// Record the number of flushed bytes only when err == nil. The body may
	// not have been sent otherwise.
	b.bytesFlushed = bytesFlushed
	var resp BulkIndexerResponseStat
	if res.IsError() {
		return resp, ErrorFlushFailed{
			resp:        res.String(),
			statusCode:  res.StatusCode,
			tooMany:     res.StatusCode == http.StatusTooManyRequests,
			clientError: res.StatusCode >= 400 && res.StatusCode < 500,
			serverError: res.StatusCode >= 500,
		}
	}

	if err := jsoniter.NewDecoder(res.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("error decoding bulk response: %w", err)
	}
	return resp, nil
}

// ErrorFlushFailed is returned by BulkIndexer.Flush when Elasticsearch
// responds to the bulk request itself with an error status.
type ErrorFlushFailed struct {
	resp        string
	statusCode  int
	tooMany     bool
	clientError bool
	serverError bool
}

// StatusCode returns the HTTP status code of the failed request.
func (e ErrorFlushFailed) StatusCode() int {
	return e.statusCode
}

// ResponseBody returns the response body of the failed request.
func (e ErrorFlushFailed) ResponseBody() string {
	return e.resp
}

func (e ErrorFlushFailed) Error() string {
	return fmt.Sprintf("flush failed (%d): %s", e.statusCode, e.resp)
}
