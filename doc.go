/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# DocDB: a small schemaless document database with a log-collection agent

## Data Model

* Value, the universal document atom: null, boolean, double, string,
ordered array, ordered object

* Document, an object value carrying the engine-assigned _id

* Collection, the logical and physical container of documents,
persisted as one JSON artifact plus its index artifacts

* Hash Index, tagged value-key --> ordered list of document ids

* B-tree Index, order-t tree over numeric field values, id lists per key


## Architecture

One server process owns a database directory. A TCP listener accepts
line-framed JSON requests (insert, find, delete, create_index) and
dispatches them under per-collection reader/writer gates: any number of
concurrent readers or one writer, with a bounded wait on the write
side. Every successful write persists the collection and its indexes.

The companion agent tails log files, buffers parsed security events,
and ships batches to the server through the same wire protocol.

## Building Blocks

* Prometheus
* CubeFS blobstore common libraries

*/

package docdb
