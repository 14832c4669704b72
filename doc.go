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

// Package nameindexer ingests per-name yearly statistics from a directory of
// JSON files and indexes them into Elasticsearch using the _bulk API.
//
// Every input file holds one record: a name, a gender, and two maps keyed by
// year holding the count and the percentage for that year. Each year present in
// both maps becomes one flat document. Documents are grouped into fixed-size
// batches and every batch is written with a single bulk request, using a
// deterministic document ID so that re-running an ingestion overwrites rather
// than duplicates.
//
// Batch failures are isolated: a failed or partially failed bulk request is
// logged and counted, and the run carries on with the next batch.
package nameindexer
