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

package hottrack

// HeatReport is the fixed-layout structure used to report one item's
// heat to an ioctl/telemetry consumer. Field order and widths are
// fixed and endianness is host, matching a wire struct a C caller
// could map directly; do not reorder or resize fields without bumping
// a separate format version out-of-band.
type HeatReport struct {
	Live      uint8
	_         [3]uint8 // reserved
	Temp      uint32
	AvgDeltaReads  uint64
	AvgDeltaWrites uint64
	LastReadTime   uint64
	LastWriteTime  uint64
	NumReads  uint32
	NumWrites uint32
	_         [4]uint64 // reserved for forward compatibility
}

// ReportInode fills a HeatReport describing inode's current state at
// time now. It does not take a reference on inode; the caller must
// already hold one.
func ReportInode(inode *InodeItem, now uint64) HeatReport {
	return reportFreq(inode.Freq, now)
}

// ReportRange fills a HeatReport describing rg's current state at time
// now. It does not take a reference on rg; the caller must already
// hold one.
func ReportRange(rg *RangeItem, now uint64) HeatReport {
	return reportFreq(rg.Freq, now)
}

func reportFreq(s *FreqSample, now uint64) HeatReport {
	// Temperature takes s.mu itself; compute it before taking our own
	// hold on the lock below rather than nesting two acquisitions of a
	// non-reentrant mutex.
	temp := Temperature(s, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	return HeatReport{
		Live:           1,
		Temp:           temp,
		AvgDeltaReads:  s.AvgDeltaReads,
		AvgDeltaWrites: s.AvgDeltaWrites,
		LastReadTime:   s.LastReadTime,
		LastWriteTime:  s.LastWriteTime,
		NumReads:       uint32(s.NrReads),
		NumWrites:      uint32(s.NrWrites),
	}
}
