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
	"time"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultBatchSize is the number of documents sent in each bulk request
	// when Config.BatchSize is zero.
	DefaultBatchSize = 500

	// DefaultMaxRequests is the number of bulk requests allowed in flight
	// when Config.MaxRequests is zero.
	DefaultMaxRequests = 1
)

// FileErrorPolicy selects what the Driver does when an input file cannot be
// read or decoded.
type FileErrorPolicy string

const (
	// FileErrorAbort stops the run and returns the error.
	FileErrorAbort FileErrorPolicy = "abort"
	// FileErrorSkip counts the file as skipped and continues with the next one.
	FileErrorSkip FileErrorPolicy = "skip"
)

// MalformedPolicy selects what the Driver does with a year-entry whose values
// cannot be converted.
type MalformedPolicy string

const (
	// MalformedSkipEntry drops the offending year-entry only.
	MalformedSkipEntry MalformedPolicy = "skip-entry"
	// MalformedSkipFile drops every document of the file holding the entry.
	MalformedSkipFile MalformedPolicy = "skip-file"
)

// Config holds configuration for Uploader and Driver.
type Config struct {
	// Logger holds an optional Logger to use for logging bulk requests and
	// run progress.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing bulk requests
	// to Elasticsearch. Each bulk request is traced as a transaction.
	//
	// If Tracer is nil, requests will not be traced with Elastic APM.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider. Each bulk request
	// is traced as a span when it is set.
	TracerProvider trace.TracerProvider

	// Index holds the name of the index documents are written to.
	Index string

	// Pipeline holds the ingest pipeline ID.
	//
	// If Pipeline is empty, no ingest pipeline will be specified in the Bulk request.
	Pipeline string

	// BatchSize holds the number of documents sent in a single bulk request.
	//
	// If BatchSize is zero, the default of 500 will be used.
	BatchSize int

	// MaxRequests holds the maximum number of bulk requests to execute
	// concurrently. With a single request, reading and transforming input
	// pauses while a batch is being uploaded.
	//
	// If MaxRequests is less than or equal to zero, the default of 1 will be used.
	MaxRequests int

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int

	// FlushTimeout holds the timeout applied to each bulk request.
	//
	// If FlushTimeout is zero, no timeout will be used.
	FlushTimeout time.Duration

	// IdentityKey holds the ordered fields used to derive document IDs.
	//
	// If IdentityKey is empty, DefaultIdentityKey (year-name-gender) will be used.
	IdentityKey IdentityKey

	// IncludeDerivedDate adds a "date" field to each document, holding the
	// first instant of the document's year in UTC.
	IncludeDerivedDate bool

	// FileErrorPolicy controls unreadable or undecodable input files.
	//
	// If FileErrorPolicy is empty, FileErrorAbort will be used.
	FileErrorPolicy FileErrorPolicy

	// MalformedPolicy controls year-entries with non-numeric values.
	//
	// If MalformedPolicy is empty, MalformedSkipEntry will be used.
	MalformedPolicy MalformedPolicy

	// Observer is notified of each batch outcome and of run completion.
	//
	// If Observer is nil, no notifications are sent.
	Observer Observer

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set
}

// DefaultConfig returns a copy of cfg with zero values replaced by defaults.
func DefaultConfig(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if len(cfg.IdentityKey) == 0 {
		cfg.IdentityKey = DefaultIdentityKey
	}
	if cfg.FileErrorPolicy == "" {
		cfg.FileErrorPolicy = FileErrorAbort
	}
	if cfg.MalformedPolicy == "" {
		cfg.MalformedPolicy = MalformedSkipEntry
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	return cfg
}

// Validate returns an error if cfg holds values that cannot be used.
func (cfg Config) Validate() error {
	if cfg.Index == "" {
		return errMissingIndex
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	if len(cfg.IdentityKey) != 0 {
		if err := cfg.IdentityKey.Validate(); err != nil {
			return err
		}
	}
	return cfg.validateRun()
}

// validateRun checks the fields used by Driver.
func (cfg Config) validateRun() error {
	if cfg.BatchSize < 0 {
		return fmt.Errorf("expected BatchSize greater than zero, got %d", cfg.BatchSize)
	}
	switch cfg.FileErrorPolicy {
	case "", FileErrorAbort, FileErrorSkip:
	default:
		return fmt.Errorf("unknown file error policy %q", cfg.FileErrorPolicy)
	}
	switch cfg.MalformedPolicy {
	case "", MalformedSkipEntry, MalformedSkipFile:
	default:
		return fmt.Errorf("unknown malformed record policy %q", cfg.MalformedPolicy)
	}
	return nil
}
