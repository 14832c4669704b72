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
	"iter"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	errYearRange   = errors.New("year out of range [1,9999]")
	errNotIntegral = errors.New("value is not an integer")
	errNotFinite   = errors.New("value is not a finite number")
	errNotDecimal  = errors.New("value is not a decimal number")
)

// Transformer converts raw records into flat per-year documents.
type Transformer struct {
	// IncludeDerivedDate sets Document.Date to the first instant of the
	// document's year.
	IncludeDerivedDate bool
}

// Documents returns a lazy sequence of the documents of r, one for each year
// of r.Values that is also present in r.Percents, in the order of r.Values.
//
// A year-entry that cannot be converted yields a zero Document and a
// *MalformedRecordError; iteration carries on with the next year-entry.
func (t Transformer) Documents(r *RawRecord) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		for year, rawValue := range r.Values.All() {
			rawPercent, ok := r.Percents.Get(year)
			if !ok {
				continue
			}
			doc, err := t.document(r, year, rawValue, rawPercent)
			if !yield(doc, err) {
				return
			}
		}
	}
}

func (t Transformer) document(r *RawRecord, year, rawValue, rawPercent string) (Document, error) {
	malformed := func(field, value string, err error) (Document, error) {
		return Document{}, &MalformedRecordError{
			Name:   r.Name,
			Gender: r.Gender,
			Year:   year,
			Field:  field,
			Value:  value,
			Err:    err,
		}
	}
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return malformed("year", year, err)
	}
	if y < 1 || y > 9999 {
		return malformed("year", year, errYearRange)
	}
	value, err := parseCount(rawValue)
	if err != nil {
		return malformed("value", rawValue, err)
	}
	percent, err := parsePercent(rawPercent)
	if err != nil {
		return malformed("percent", rawPercent, err)
	}
	doc := Document{
		Gender:  r.Gender,
		Name:    r.Name,
		Percent: percent,
		Value:   value,
		Year:    y,
	}
	if t.IncludeDerivedDate {
		date := DerivedDate(y)
		doc.Date = &date
	}
	return doc, nil
}

// DerivedDate returns the Unix epoch shifted by (year - 1970) years.
func DerivedDate(year int) time.Time {
	return time.Unix(0, 0).UTC().AddDate(year-1970, 0, 0)
}

// parseCount accepts integers and integral floats such as "10.0".
func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, errNotIntegral
	}
	return int64(f), nil
}

func parsePercent(s string) (float64, error) {
	f, err := parseDecimal(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}

// parseDecimal is strconv.ParseFloat without hexadecimal mantissas, which
// are the only base-prefixed form ParseFloat accepts.
func parseDecimal(s string) (float64, error) {
	unsigned := strings.TrimLeft(s, "+-")
	if len(unsigned) > 1 && unsigned[0] == '0' && (unsigned[1] == 'x' || unsigned[1] == 'X') {
		return 0, errNotDecimal
	}
	return strconv.ParseFloat(s, 64)
}
