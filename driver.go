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
	"fmt"
	"sync"

	"go.elastic.co/fastjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// BatchUploader uploads a single batch. *Uploader implements it.
type BatchUploader interface {
	Upload(ctx context.Context, batch Batch) BatchOutcome
}

// RunAggregate holds the counters of a single run.
type RunAggregate struct {
	// FilesFound holds the number of input files listed.
	FilesFound int
	// FilesSeen holds the number of input files attempted.
	FilesSeen int
	// FilesSkipped holds the number of files skipped because they could not
	// be read or decoded, or held a malformed year-entry under
	// MalformedSkipFile.
	FilesSkipped int

	// DocumentsTransformed holds the number of documents offered for upload,
	// whether or not their batch later succeeded.
	DocumentsTransformed int
	// DocumentsMalformed holds the number of year-entries dropped.
	DocumentsMalformed int

	BatchesSucceeded int
	BatchesFailed    int
}

// Batches returns the number of batches uploaded.
func (a RunAggregate) Batches() int {
	return a.BatchesSucceeded + a.BatchesFailed
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (a RunAggregate) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("files_found", a.FilesFound)
	enc.AddInt("files_seen", a.FilesSeen)
	enc.AddInt("files_skipped", a.FilesSkipped)
	enc.AddInt("documents_transformed", a.DocumentsTransformed)
	enc.AddInt("documents_malformed", a.DocumentsMalformed)
	enc.AddInt("batches_succeeded", a.BatchesSucceeded)
	enc.AddInt("batches_failed", a.BatchesFailed)
	return nil
}

func (a RunAggregate) encode(w *fastjson.Writer) {
	w.RawString(`{"files_found":`)
	w.Int64(int64(a.FilesFound))
	w.RawString(`,"files_seen":`)
	w.Int64(int64(a.FilesSeen))
	w.RawString(`,"files_skipped":`)
	w.Int64(int64(a.FilesSkipped))
	w.RawString(`,"documents_transformed":`)
	w.Int64(int64(a.DocumentsTransformed))
	w.RawString(`,"documents_malformed":`)
	w.Int64(int64(a.DocumentsMalformed))
	w.RawString(`,"batches_succeeded":`)
	w.Int64(int64(a.BatchesSucceeded))
	w.RawString(`,"batches_failed":`)
	w.Int64(int64(a.BatchesFailed))
	w.RawByte('}')
}

// Driver runs the ingestion pipeline: it reads every input file of a Source,
// transforms each record into documents, groups the documents into batches
// and hands every batch to a BatchUploader.
//
// A Driver may be reused for several runs, one at a time.
type Driver struct {
	config      Config
	uploader    BatchUploader
	transformer Transformer
	metrics     metrics
}

// NewDriver returns a new Driver uploading through uploader. Only the Logger,
// BatchSize, MaxRequests, IncludeDerivedDate, policy, Observer and metric
// fields of cfg are used.
func NewDriver(uploader BatchUploader, cfg Config) (*Driver, error) {
	if uploader == nil {
		return nil, errNilUploader
	}
	if err := cfg.validateRun(); err != nil {
		return nil, err
	}
	cfg = DefaultConfig(cfg)
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	return &Driver{
		config:      cfg,
		uploader:    uploader,
		transformer: Transformer{IncludeDerivedDate: cfg.IncludeDerivedDate},
		metrics:     ms,
	}, nil
}

// Run processes every file listed by src and returns the run aggregate.
//
// Batch failures are counted and never end the run. Run returns an error
// when the input cannot be listed, when ctx is cancelled, or when a file
// cannot be read or decoded under FileErrorAbort. In-flight uploads are
// always waited for before Run returns.
func (d *Driver) Run(ctx context.Context, src Source) (RunAggregate, error) {
	if src == nil {
		return RunAggregate{}, errNilSource
	}
	// The capacity was validated by NewDriver.
	batcher, _ := NewBatcher(d.config.BatchSize)
	r := &run{
		driver:  d,
		ctx:     ctx,
		logger:  d.config.Logger,
		batcher: batcher,
	}
	if d.config.MaxRequests > 1 {
		r.g = &errgroup.Group{}
		r.g.SetLimit(d.config.MaxRequests)
	}
	err := r.process(src)
	if r.g != nil {
		// Uploads never return errors, see run.upload.
		_ = r.g.Wait()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	agg := r.agg
	if err != nil {
		r.logger.Error("run failed", zap.Object("aggregate", agg), zap.Error(err))
	} else {
		r.logger.Info("run completed", zap.Object("aggregate", agg))
	}
	d.config.Observer.RunCompleted(agg, err)
	return agg, err
}

type run struct {
	driver  *Driver
	ctx     context.Context
	logger  *zap.Logger
	batcher *Batcher
	// g is nil when batches are uploaded synchronously.
	g *errgroup.Group

	mu  sync.Mutex
	agg RunAggregate
}

func (r *run) process(src Source) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	names, err := src.List(r.ctx)
	if err != nil {
		return &FileReadError{Err: err}
	}
	r.update(func(a *RunAggregate) { a.FilesFound = len(names) })
	r.logger.Debug("listed input files", zap.Int("files", len(names)))

	for _, name := range names {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		r.update(func(a *RunAggregate) { a.FilesSeen++ })
		skipped, err := r.processFile(src, name)
		switch {
		case err != nil && r.driver.config.FileErrorPolicy == FileErrorAbort:
			r.addFiles(1, "failed")
			return err
		case err != nil:
			r.logger.Warn("skipping input file", zap.String("file", name), zap.Error(err))
			skipped = true
		}
		if skipped {
			r.update(func(a *RunAggregate) { a.FilesSkipped++ })
			r.addFiles(1, "skipped")
			continue
		}
		r.addFiles(1, "processed")
	}

	if batch := r.batcher.Flush(); batch.Len() > 0 {
		r.upload(batch)
	}
	return nil
}

// processFile offers the documents of a single file. It reports whether the
// file was skipped because of a malformed year-entry.
func (r *run) processFile(src Source, name string) (bool, error) {
	data, err := src.Read(r.ctx, name)
	if err != nil {
		return false, &FileReadError{File: name, Err: err}
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return false, &ParseError{File: name, Err: err}
	}

	skipFile := r.driver.config.MalformedPolicy == MalformedSkipFile
	var pending []Document
	var offered, malformed int
	for doc, err := range r.driver.transformer.Documents(rec) {
		if err != nil {
			malformed++
			r.logger.Warn("dropping malformed year-entry",
				zap.String("file", name), zap.Error(err),
			)
			continue
		}
		if skipFile {
			if malformed == 0 {
				pending = append(pending, doc)
			}
			continue
		}
		r.offer(doc)
		offered++
	}
	if malformed > 0 {
		r.update(func(a *RunAggregate) { a.DocumentsMalformed += malformed })
		r.driver.metrics.docsMalformed.Add(context.Background(), int64(malformed),
			metric.WithAttributeSet(r.driver.config.MetricAttributes),
		)
	}
	skipped := skipFile && malformed > 0
	if !skipped {
		for _, doc := range pending {
			r.offer(doc)
			offered++
		}
	}
	if offered > 0 {
		r.driver.metrics.docsTransformed.Add(context.Background(), int64(offered),
			metric.WithAttributeSet(r.driver.config.MetricAttributes),
		)
	}
	r.logger.Debug("processed input file",
		zap.String("file", name),
		zap.Int("documents", offered),
		zap.Int("malformed", malformed),
		zap.Bool("skipped", skipped),
	)
	return skipped, nil
}

func (r *run) offer(doc Document) {
	r.update(func(a *RunAggregate) { a.DocumentsTransformed++ })
	if batch, ok := r.batcher.Offer(doc); ok {
		r.upload(batch)
	}
}

// upload sends batch synchronously, or on the errgroup when concurrent
// uploads are enabled. errgroup.Group.Go blocks while MaxRequests uploads
// are in flight.
func (r *run) upload(batch Batch) {
	if r.g == nil {
		r.complete(r.driver.uploader.Upload(r.ctx, batch))
		return
	}
	r.g.Go(func() error {
		r.complete(r.driver.uploader.Upload(r.ctx, batch))
		return nil
	})
}

func (r *run) complete(outcome BatchOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if outcome.Succeeded() {
		r.agg.BatchesSucceeded++
	} else {
		r.agg.BatchesFailed++
		fields := []zap.Field{
			zap.Int("batch", outcome.Seq),
			zap.Int("items", outcome.ItemCount),
			zap.Int("failed", outcome.Failed),
		}
		if outcome.Err != nil {
			fields = append(fields, zap.Error(outcome.Err))
		}
		r.logger.Warn(fmt.Sprintf("batch %d was not fully indexed", outcome.Seq), fields...)
	}
	r.driver.config.Observer.BatchCompleted(outcome, r.agg)
}

func (r *run) update(f func(*RunAggregate)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.agg)
}

func (r *run) addFiles(n int64, status string) {
	r.driver.metrics.filesProcessed.Add(context.Background(), n,
		metric.WithAttributeSet(r.driver.config.MetricAttributes),
		metric.WithAttributes(attribute.String("status", status)),
	)
}
