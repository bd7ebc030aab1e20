// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hottrack tracks per-file and per-byte-range I/O access
// frequency and classifies data into hot/cold heat buckets for tiering,
// migration, or eviction decisions.
//
// A Root owns an inode index keyed by file id, and each InodeItem owns
// a range index keyed by an aligned byte offset. Every access recorded
// through RecordAccess updates an exponential moving average of
// inter-access time for the touched inode and range, from which a
// scalar temperature is derived. A HeatMap buckets items by the top
// bits of their temperature so that "give me the coldest N items" is a
// bucket walk rather than a sort.
//
// A background worker periodically recomputes temperature and moves
// items between buckets, and also runs the memory governor's
// high-watermark sweep. A Shrinker interface lets an external
// memory-pressure source drive the same eviction path on demand.
package hottrack
