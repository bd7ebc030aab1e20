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

package main

import (
	"time"

	"github.com/hottier/hotfs/pkg/hottrack"
)

// runWorkloads starts one goroutine per configured workload's thread
// count, each calling RecordAccess once per millisecond until stop is
// closed or, when AccessesEach is non-zero, until it has made that many
// calls. It stands in for a real VFS read/write hook, which would
// call RecordAccess directly from the I/O path instead.
func runWorkloads(root *hottrack.Root, workloads []workloadConfig) chan struct{} {
	stop := make(chan struct{})
	for _, w := range workloads {
		w := w
		for t := 0; t < w.Threads; t++ {
			go func() {
				ticker := time.NewTicker(time.Millisecond)
				defer ticker.Stop()
				for i := 0; w.AccessesEach == 0 || i < w.AccessesEach; i++ {
					select {
					case <-stop:
						return
					case <-ticker.C:
						root.RecordAccess(w.FileID, hottrack.FileKindRegular, 1, w.RangeOffset, w.RangeLength, w.Write)
					}
				}
			}()
		}
	}
	return stop
}
