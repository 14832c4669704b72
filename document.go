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
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.elastic.co/fastjson"
)

// TimestampFormat holds the layout used for the derived "date" field, matching
// Elasticsearch's strict_date_optional_time format.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// KeyField names a Document field that takes part in the document ID.
type KeyField string

const (
	KeyYear   KeyField = "year"
	KeyName   KeyField = "name"
	KeyGender KeyField = "gender"
)

// IdentityKey is the ordered list of fields joined with "-" to form a
// document ID. It must name each KeyField exactly once.
type IdentityKey []KeyField

// DefaultIdentityKey renders IDs such as "2000-Mary-F".
var DefaultIdentityKey = IdentityKey{KeyYear, KeyName, KeyGender}

// ParseIdentityKey parses a "-" or "," separated list of field names,
// such as "name-gender-year".
func ParseIdentityKey(s string) (IdentityKey, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == ','
	})
	key := make(IdentityKey, 0, len(parts))
	for _, p := range parts {
		key = append(key, KeyField(strings.ToLower(strings.TrimSpace(p))))
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}

// Validate returns an error unless k names year, name and gender exactly once.
func (k IdentityKey) Validate() error {
	seen := make(map[KeyField]bool, 3)
	for _, f := range k {
		switch f {
		case KeyYear, KeyName, KeyGender:
		default:
			return fmt.Errorf("unknown identity key field %q", f)
		}
		if seen[f] {
			return fmt.Errorf("identity key field %q repeated", f)
		}
		seen[f] = true
	}
	if len(seen) != 3 {
		return fmt.Errorf("identity key %q must contain year, name and gender", k.String())
	}
	return nil
}

func (k IdentityKey) String() string {
	parts := make([]string, len(k))
	for i, f := range k {
		parts[i] = string(f)
	}
	return strings.Join(parts, "-")
}

// Document is the flat, per-year unit written to Elasticsearch.
type Document struct {
	Gender  string
	Name    string
	Percent float64
	Value   int64
	Year    int

	// Date is only encoded when it is set.
	Date *time.Time
}

// ID returns the deterministic document ID for d under key.
func (d Document) ID(key IdentityKey) string {
	var sb strings.Builder
	for i, f := range key {
		if i > 0 {
			sb.WriteByte('-')
		}
		switch f {
		case KeyYear:
			sb.WriteString(strconv.Itoa(d.Year))
		case KeyName:
			sb.WriteString(d.Name)
		case KeyGender:
			sb.WriteString(d.Gender)
		}
	}
	return sb.String()
}

// WriteTo writes the JSON encoding of d to w.
func (d Document) WriteTo(w io.Writer) (int64, error) {
	var jsonw fastjson.Writer
	d.encode(&jsonw)
	n, err := w.Write(jsonw.Bytes())
	return int64(n), err
}

func (d Document) encode(w *fastjson.Writer) {
	w.RawString(`{"gender":`)
	w.String(d.Gender)
	w.RawString(`,"name":`)
	w.String(d.Name)
	w.RawString(`,"percent":`)
	w.Float64(d.Percent)
	w.RawString(`,"value":`)
	w.Int64(d.Value)
	w.RawString(`,"year":`)
	w.Int64(int64(d.Year))
	if d.Date != nil {
		w.RawString(`,"date":"`)
		w.Time(d.Date.UTC(), TimestampFormat)
		w.RawByte('"')
	}
	w.RawByte('}')
}
