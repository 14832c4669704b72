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
	"io"
	"sync"

	"go.elastic.co/fastjson"
)

// Observer receives progress notifications from a Driver. Calls are
// serialized; implementations need not be safe for concurrent use.
type Observer interface {
	// BatchCompleted is called once for every uploaded batch, with the run
	// aggregate as it is after counting the batch.
	BatchCompleted(outcome BatchOutcome, agg RunAggregate)

	// RunCompleted is called once when the run ends, with the error returned
	// by Driver.Run.
	RunCompleted(agg RunAggregate, err error)
}

// NopObserver is an Observer that does nothing.
type NopObserver struct{}

// BatchCompleted does nothing.
func (NopObserver) BatchCompleted(BatchOutcome, RunAggregate) {}

// RunCompleted does nothing.
func (NopObserver) RunCompleted(RunAggregate, error) {}

// MultiObserver returns an Observer notifying each of observers in turn.
func MultiObserver(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) BatchCompleted(outcome BatchOutcome, agg RunAggregate) {
	for _, o := range m {
		o.BatchCompleted(outcome, agg)
	}
}

func (m multiObserver) RunCompleted(agg RunAggregate, err error) {
	for _, o := range m {
		o.RunCompleted(agg, err)
	}
}

// OutcomeLog is an Observer writing one JSON line per batch outcome, and a
// final summary line, to an io.Writer.
//
// A batch line looks like:
//
//	{"seq":1,"took":12,"errors":false,"items":500,"failed":0}
type OutcomeLog struct {
	mu  sync.Mutex
	w   io.Writer
	buf fastjson.Writer
	err error
}

// NewOutcomeLog returns an OutcomeLog writing to w.
func NewOutcomeLog(w io.Writer) *OutcomeLog {
	return &OutcomeLog{w: w}
}

// BatchCompleted writes the outcome as a JSON line.
func (l *OutcomeLog) BatchCompleted(outcome BatchOutcome, _ RunAggregate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.RawString(`{"seq":`)
	l.buf.Int64(int64(outcome.Seq))
	l.buf.RawString(`,"took":`)
	l.buf.Int64(outcome.Took.Milliseconds())
	l.buf.RawString(`,"errors":`)
	l.buf.Bool(!outcome.Succeeded())
	l.buf.RawString(`,"items":`)
	l.buf.Int64(int64(outcome.ItemCount))
	l.buf.RawString(`,"failed":`)
	l.buf.Int64(int64(outcome.Failed))
	if outcome.Err != nil {
		l.buf.RawString(`,"error":`)
		l.buf.String(outcome.Err.Error())
	}
	l.buf.RawString("}\n")
	l.flush()
}

// RunCompleted writes the run aggregate as a JSON line.
func (l *OutcomeLog) RunCompleted(agg RunAggregate, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.RawString(`{"summary":`)
	agg.encode(&l.buf)
	if err != nil {
		l.buf.RawString(`,"error":`)
		l.buf.String(err.Error())
	}
	l.buf.RawString("}\n")
	l.flush()
}

// Err returns the first error encountered writing to the underlying writer.
func (l *OutcomeLog) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *OutcomeLog) flush() {
	if l.err == nil {
		_, l.err = l.w.Write(l.buf.Bytes())
	}
	l.buf.Reset()
}
