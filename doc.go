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

# MDStore: sparse multi-dimensional event storage

## Data Model

* Event, a point in 1 to 9 dimensions carrying a signal and its squared error. Full events also record the run index and detector id.

* Box, an axis-aligned region. A leaf box (MDBox) holds events, a grid box (MDGridBox) holds a regular grid of child boxes.

* Event workspace, the dimensions plus a root box. Leaves split into grids once they hold more than the split threshold, up to the max depth.

* Histogram workspace, a dense regular grid of signal, error and event counts.

## Storage

Leaves may be file backed: their events are saved into paged storage and released from memory, then loaded back on demand. Paged storage is a single data file with a free-span allocator, or a badger/rocksdb kv store.

## Algorithms

* Iterators, the leaves touching an implicit function partitioned into groups for parallel workers

* Integrate, signal and error summed inside a region

* BinMD, events binned into a histogram workspace through a coordinate transform

* TransposeMD, axes of a histogram workspace reordered or dropped

## Building Blocks

* gonum
* badger / rocksdb
* Prometheus

*/

package mdstore
