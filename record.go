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
	"errors"
	"fmt"
	"io"
	"iter"

	jsoniter "github.com/json-iterator/go"
)

// YearValues maps year keys to their raw textual value, remembering the order
// in which years were first set.
type YearValues struct {
	years  []string
	values map[string]string
}

// Set records value for year. Setting an existing year replaces its value
// and keeps its original position.
func (v *YearValues) Set(year, value string) {
	if v.values == nil {
		v.values = make(map[string]string)
	}
	if _, ok := v.values[year]; !ok {
		v.years = append(v.years, year)
	}
	v.values[year] = value
}

// Get returns the raw value for year, if present.
func (v YearValues) Get(year string) (string, bool) {
	value, ok := v.values[year]
	return value, ok
}

// Len returns the number of years held.
func (v YearValues) Len() int {
	return len(v.years)
}

// All yields every year and its raw value in insertion order.
func (v YearValues) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, year := range v.years {
			if !yield(year, v.values[year]) {
				return
			}
		}
	}
}

// RawRecord is the content of one input file.
type RawRecord struct {
	Gender   string
	Name     string
	Values   YearValues
	Percents YearValues
}

// DecodeRecord decodes one input file. Values held as JSON strings or numbers
// are kept verbatim; any other JSON value is kept as its raw encoding so that
// it is reported as malformed during transformation.
func DecodeRecord(data []byte) (*RawRecord, error) {
	var r RawRecord
	if err := r.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &r, nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving the key order of the
// "values" and "percents" objects.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	it := jsoniter.ParseBytes(jsoniter.ConfigCompatibleWithStandardLibrary, data)
	if next := it.WhatIsNext(); next != jsoniter.ObjectValue {
		if it.Error != nil {
			return decodeError(it.Error)
		}
		return errors.New("expected a JSON object")
	}
	it.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		switch field {
		case "gender":
			r.Gender = it.ReadString()
		case "name":
			r.Name = it.ReadString()
		case "values":
			readYearValues(it, &r.Values)
		case "percents":
			readYearValues(it, &r.Percents)
		default:
			it.Skip()
		}
		return it.Error == nil
	})
	if it.Error != nil {
		return decodeError(it.Error)
	}
	if it.WhatIsNext() != jsoniter.InvalidValue || !errors.Is(it.Error, io.EOF) {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

func readYearValues(it *jsoniter.Iterator, v *YearValues) {
	if it.WhatIsNext() == jsoniter.NilValue {
		it.ReadNil()
		return
	}
	it.ReadMapCB(func(it *jsoniter.Iterator, year string) bool {
		switch it.WhatIsNext() {
		case jsoniter.StringValue:
			v.Set(year, it.ReadString())
		case jsoniter.NumberValue:
			v.Set(year, it.ReadNumber().String())
		default:
			v.Set(year, string(it.SkipAndReturnBytes()))
		}
		return it.Error == nil
	})
}

func decodeError(err error) error {
	if errors.Is(err, io.EOF) {
		return errors.New("unexpected end of JSON input")
	}
	return fmt.Errorf("invalid JSON: %w", err)
}
