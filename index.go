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

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/fastjson"
)

const (
	// DefaultShards is the number of primary shards of a created index.
	DefaultShards = 2
	// DefaultReplicas is the number of replicas of a created index.
	DefaultReplicas = 0
)

// IndexSettings holds the settings of an index created by CreateIndex.
type IndexSettings struct {
	// Shards holds the number of primary shards; zero selects DefaultShards.
	Shards int
	// Replicas holds the number of replicas of each shard.
	Replicas int
}

// CreateIndex creates index with the document mapping: keyword gender and
// name, float percent, integer value and year, and a date. Numeric coercion
// is disabled so that Elasticsearch rejects values of the wrong type.
//
// An index that already exists is left untouched and is not an error. Any
// other failure is returned as a *SetupError.
func CreateIndex(ctx context.Context, client esapi.Transport, index string, settings IndexSettings) error {
	if index == "" {
		return &SetupError{Err: errMissingIndex}
	}
	if client == nil {
		return &SetupError{Index: index, Err: errNilClient}
	}
	if settings.Shards <= 0 {
		settings.Shards = DefaultShards
	}
	if settings.Replicas < 0 {
		return &SetupError{Index: index, Err: fmt.Errorf(
			"expected Replicas greater than or equal to zero, got %d", settings.Replicas,
		)}
	}

	req := esapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(indexBody(settings)),
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return &SetupError{Index: index, Err: err}
	}
	defer res.Body.Close()
	if !res.IsError() {
		return nil
	}
	body, _ := io.ReadAll(res.Body)
	if errType := responseErrorType(body); errType == "resource_already_exists_exception" {
		return nil
	}
	return &SetupError{Index: index, Err: fmt.Errorf(
		"create index returned %s: %s", res.Status(), body,
	)}
}

func indexBody(settings IndexSettings) []byte {
	var w fastjson.Writer
	w.RawString(`{"settings":{"index":{"number_of_shards":`)
	w.Int64(int64(settings.Shards))
	w.RawString(`,"number_of_replicas":`)
	w.Int64(int64(settings.Replicas))
	w.RawString(`,"mapping":{"coerce":false}}}`)
	w.RawString(`,"mappings":{"properties":{`)
	w.RawString(`"gender":{"type":"keyword"},`)
	w.RawString(`"name":{"type":"keyword"},`)
	w.RawString(`"percent":{"type":"float"},`)
	w.RawString(`"value":{"type":"integer"},`)
	w.RawString(`"year":{"type":"integer"},`)
	w.RawString(`"date":{"type":"date"}`)
	w.RawString(`}}}`)
	return w.Bytes()
}

// responseErrorType returns error.type of an Elasticsearch error response.
func responseErrorType(body []byte) string {
	var errType string
	iter := jsoniter.ConfigFastest.BorrowIterator(body)
	defer jsoniter.ConfigFastest.ReturnIterator(iter)
	iter.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
		if field != "error" || i.WhatIsNext() != jsoniter.ObjectValue {
			i.Skip()
			return true
		}
		i.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
			if field == "type" {
				errType = i.ReadString()
				return true
			}
			i.Skip()
			return true
		})
		return true
	})
	return errType
}
