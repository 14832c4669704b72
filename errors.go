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
)

var (
	errMissingIndex  = errors.New("missing index name")
	errNilClient     = errors.New("client is nil")
	errNilSource     = errors.New("source is nil")
	errNilUploader   = errors.New("uploader is nil")
	errEmptyCapacity = errors.New("batch capacity must be greater than zero")
)

// SetupError is returned when the target index cannot be provisioned.
type SetupError struct {
	Index string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("failed to set up index %q: %v", e.Index, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// FileReadError is returned when the input directory cannot be listed, or when
// an input file cannot be read.
type FileReadError struct {
	// File is empty when listing the input failed.
	File string
	Err  error
}

func (e *FileReadError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("failed to list input files: %v", e.Err)
	}
	return fmt.Sprintf("failed to read %s: %v", e.File, e.Err)
}

func (e *FileReadError) Unwrap() error { return e.Err }

// ParseError is returned when an input file does not hold a valid record.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// MalformedRecordError reports a single year-entry whose year, value or
// percent could not be converted to a number.
type MalformedRecordError struct {
	Name   string
	Gender string
	Year   string
	// Field is one of "year", "value" or "percent".
	Field string
	// Value holds the offending raw value.
	Value string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s %q for %s (%s) in year %s: %v",
		e.Field, e.Value, e.Name, e.Gender, e.Year, e.Err,
	)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// BatchUploadError reports a bulk request that failed as a whole: the request
// could not be sent, Elasticsearch rejected it, or its response could not be
// decoded. Individual item failures are reported through BatchOutcome.HasErrors
// instead.
type BatchUploadError struct {
	Seq int
	Err error
}

func (e *BatchUploadError) Error() string {
	return fmt.Sprintf("bulk request for batch %d failed: %v", e.Seq, e.Err)
}

func (e *BatchUploadError) Unwrap() error { return e.Err }
