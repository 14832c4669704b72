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
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// BatchOutcome is the result of uploading one batch.
type BatchOutcome struct {
	Seq int

	// Took holds the processing time reported by Elasticsearch.
	Took time.Duration
	// Duration holds the round-trip time measured by the client.
	Duration time.Duration

	// HasErrors reports whether any item of the batch failed.
	HasErrors bool
	// ItemCount holds the number of items acknowledged by Elasticsearch.
	ItemCount int
	Indexed   int64
	Failed    int

	// Err is a *BatchUploadError when the request failed as a whole.
	Err error
}

// Succeeded reports whether every document of the batch was written.
func (o BatchOutcome) Succeeded() bool {
	return o.Err == nil && !o.HasErrors
}

// Uploader writes batches to Elasticsearch, one bulk request per batch.
//
// Upload may be called concurrently; at most Config.MaxRequests bulk requests
// are in flight at once.
type Uploader struct {
	config  Config
	pool    *BulkIndexerPool
	metrics metrics

	// tracer is an OTel tracer, and should not be confused with `u.config.Tracer`
	// which is an Elastic APM Tracer.
	tracer trace.Tracer
}

// NewUploader returns a new Uploader writing to cfg.Index through client.
// It is only tested with v7 and v8 go-elasticsearch clients.
func NewUploader(client esapi.Transport, cfg Config) (*Uploader, error) {
	if client == nil {
		return nil, errNilClient
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = DefaultConfig(cfg)
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := NewBulkIndexerPool(cfg.MaxRequests, BulkIndexerConfig{
		Client:           client,
		CompressionLevel: cfg.CompressionLevel,
		Pipeline:         cfg.Pipeline,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating bulk indexer: %w", err)
	}
	u := &Uploader{
		config:  cfg,
		pool:    pool,
		metrics: ms,
	}
	if cfg.TracerProvider != nil {
		u.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-nameindexer.uploader")
	}
	return u, nil
}

// Upload sends batch as a single bulk request and reports the outcome. Upload
// never returns an error: request failures are reported in BatchOutcome.Err,
// item failures in BatchOutcome.HasErrors. An empty batch is not sent.
func (u *Uploader) Upload(ctx context.Context, batch Batch) BatchOutcome {
	n := batch.Len()
	if n == 0 {
		return BatchOutcome{Seq: batch.Seq}
	}

	logger := u.config.Logger.With(zap.Int("batch", batch.Seq))
	var tx *apm.Transaction
	if u.config.Tracer != nil {
		tx = u.config.Tracer.StartTransaction("nameindexer.upload", "output")
		tx.Context.SetLabel("documents", n)
		ctx = apm.ContextWithTransaction(ctx, tx)

		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}
	var span trace.Span
	if u.tracer != nil {
		ctx, span = u.tracer.Start(ctx, "nameindexer.upload", trace.WithAttributes(
			attribute.Int("documents", n),
		))
		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}

	outcome := u.upload(ctx, batch, logger)

	if tx != nil {
		if outcome.Succeeded() {
			tx.Outcome = "success"
		} else {
			tx.Outcome = "failure"
		}
		if outcome.Err != nil {
			if e := apm.CaptureError(ctx, outcome.Err); e != nil {
				e.Send()
			}
		}
		tx.End()
	}
	if span != nil {
		switch {
		case outcome.Err != nil:
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, "bulk indexing request failed")
		case outcome.HasErrors:
			span.SetStatus(codes.Error, "bulk indexing request had item failures")
		default:
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
	return outcome
}

func (u *Uploader) upload(ctx context.Context, batch Batch, logger *zap.Logger) BatchOutcome {
	outcome := BatchOutcome{Seq: batch.Seq}
	n := batch.Len()
	attrs := metric.WithAttributeSet(u.config.MetricAttributes)
	failed := func(err error) BatchOutcome {
		outcome.Err = &BatchUploadError{Seq: batch.Seq, Err: err}
		u.metrics.bulkRequests.Add(context.Background(), 1, attrs,
			metric.WithAttributes(attribute.String("status", "Failed")),
		)
		return outcome
	}

	indexer, err := u.pool.Get(ctx)
	if err != nil {
		logger.Warn("failed to get bulk indexer from pool", zap.Error(err))
		return failed(err)
	}
	defer u.pool.Put(indexer)

	for _, doc := range batch.Documents {
		if err := indexer.Add(BulkIndexerItem{
			Index:      u.config.Index,
			DocumentID: doc.ID(u.config.IdentityKey),
			Body:       doc,
		}); err != nil {
			logger.Error("failed to Add item to bulk indexer", zap.Error(err))
			return failed(err)
		}
	}

	flushCtx := ctx
	if u.config.FlushTimeout != 0 {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(ctx, u.config.FlushTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := indexer.Flush(flushCtx)
	outcome.Duration = time.Since(start)
	u.metrics.flushDuration.Record(context.Background(), outcome.Duration.Seconds(), attrs)

	// Record the BulkIndexer buffer's length as the bytesTotal metric after
	// the request has been flushed.
	if flushed := indexer.BytesFlushed(); flushed > 0 {
		u.metrics.bytesTotal.Add(context.Background(), int64(flushed), attrs)
	}
	if err != nil {
		logger.Error("bulk indexing request failed", zap.Error(err))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			u.addDocs(int64(n), "Timeout")
		}
		var errFailed ErrorFlushFailed
		if errors.As(err, &errFailed) {
			var status string
			switch {
			case errFailed.tooMany:
				status = "TooMany"
			case errFailed.clientError:
				status = "FailedClient"
			case errFailed.serverError:
				status = "FailedServer"
			}
			if status != "" {
				u.addDocs(int64(n), status, semconv.HTTPResponseStatusCode(errFailed.statusCode))
			}
		}
		return failed(err)
	}

	outcome.Took = time.Duration(resp.Took) * time.Millisecond
	outcome.ItemCount = resp.Items
	outcome.Indexed = resp.Indexed
	outcome.Failed = len(resp.FailedDocs)
	outcome.HasErrors = resp.HasErrors || len(resp.FailedDocs) > 0
	if resp.Items != n {
		logger.Warn("bulk response item count does not match request",
			zap.Int("documents", n), zap.Int("items", resp.Items),
		)
		outcome.HasErrors = true
	}

	var tooManyRequests, clientFailed, serverFailed int64
	type failureKey struct {
		index, errType, reason string
	}
	var failedCount map[failureKey]int
	if len(resp.FailedDocs) > 0 {
		failedCount = make(map[failureKey]int, len(resp.FailedDocs))
	}
	for _, info := range resp.FailedDocs {
		switch {
		case info.Status == http.StatusTooManyRequests:
			tooManyRequests++
		case info.Status >= 400 && info.Status < 500:
			clientFailed++
		case info.Status >= 500:
			serverFailed++
		}
		failedCount[failureKey{info.Index, info.Error.Type, info.Error.Reason}]++
	}
	for key, count := range failedCount {
		logger.Error(fmt.Sprintf("failed to index documents in '%s' (%s): %s",
			key.index, key.errType, key.reason,
		), zap.Int("documents", count))
	}
	if resp.Indexed > 0 {
		u.addDocs(resp.Indexed, "Success")
	}
	if tooManyRequests > 0 {
		u.addDocs(tooManyRequests, "TooMany")
	}
	if clientFailed > 0 {
		u.addDocs(clientFailed, "FailedClient")
	}
	if serverFailed > 0 {
		u.addDocs(serverFailed, "FailedServer")
	}
	status := "Success"
	if outcome.HasErrors {
		status = "PartialFailure"
	}
	u.metrics.bulkRequests.Add(context.Background(), 1, attrs,
		metric.WithAttributes(attribute.String("status", status)),
	)
	logger.Debug(
		"bulk request completed",
		zap.Int64("docs_indexed", resp.Indexed),
		zap.Int("docs_failed", outcome.Failed),
		zap.Int64("docs_rate_limited", tooManyRequests),
		zap.Duration("took", outcome.Took),
	)
	return outcome
}

func (u *Uploader) addDocs(n int64, status string, extra ...attribute.KeyValue) {
	u.metrics.docsIndexed.Add(
		context.Background(),
		n,
		metric.WithAttributeSet(u.config.MetricAttributes),
		metric.WithAttributes(append(extra, attribute.String("status", status))...),
	)
}
