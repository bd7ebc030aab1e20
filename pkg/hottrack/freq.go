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

import (
	"math"
	"sync"
	"sync/atomic"
)

// FreqSample is the per-item access history that Temperature derives a
// heat score from. NrReads and NrWrites are updated with atomic
// instructions; every other field is guarded by mu, since the EMA
// recurrence is a read-modify-write where a lost update would compound
// over many rounds unlike a single counter increment.
type FreqSample struct {
	NrReads  uint64
	NrWrites uint64

	mu             sync.Mutex
	LastReadTime   uint64
	LastWriteTime  uint64
	AvgDeltaReads  uint64
	AvgDeltaWrites uint64
	LastTemp       uint32
}

// NewFreqSample returns a freshly zeroed sample. AvgDeltaReads and
// AvgDeltaWrites start at the maximum uint64 so that a brand-new item
// contributes nothing from the burstiness terms of Temperature until
// it has accumulated real history.
func NewFreqSample() *FreqSample {
	return &FreqSample{
		AvgDeltaReads:  math.MaxUint64,
		AvgDeltaWrites: math.MaxUint64,
	}
}

// UpdateSample folds one access at time now into the sample.
func UpdateSample(s *FreqSample, now uint64, isWrite bool) {
	if isWrite {
		atomic.AddUint64(&s.NrWrites, 1)
	} else {
		atomic.AddUint64(&s.NrReads, 1)
	}

	// A zero last-access time means there is no earlier access of that
	// kind to measure an interval from, so the first access leaves the
	// average at its initial value.
	s.mu.Lock()
	defer s.mu.Unlock()
	if isWrite {
		if s.LastWriteTime != 0 {
			delta := (now - s.LastWriteTime) >> FreqPower
			s.AvgDeltaWrites = ((s.AvgDeltaWrites << FreqPower) - s.AvgDeltaWrites + delta) >> FreqPower
		}
		s.LastWriteTime = now
	} else {
		if s.LastReadTime != 0 {
			delta := (now - s.LastReadTime) >> FreqPower
			s.AvgDeltaReads = ((s.AvgDeltaReads << FreqPower) - s.AvgDeltaReads + delta) >> FreqPower
		}
		s.LastReadTime = now
	}
}

// Temperature computes the scalar heat score of a sample at time now.
// The result saturates at math.MaxUint32 instead of wrapping, so that
// a very hot item can never score lower than a lukewarm one purely
// because the sum of its six terms overflowed.
func Temperature(s *FreqSample, now uint64) uint32 {
	nrReads := atomic.LoadUint64(&s.NrReads)
	nrWrites := atomic.LoadUint64(&s.NrWrites)

	s.mu.Lock()
	lastRead := s.LastReadTime
	lastWrite := s.LastWriteTime
	avgReads := s.AvgDeltaReads
	avgWrites := s.AvgDeltaWrites
	s.mu.Unlock()

	term1 := weighted(nrReads<<NrrMultPower, NrrCoeffPower)
	term2 := weighted(nrWrites<<NrwMultPower, NrwCoeffPower)
	term3 := weighted(recencyTerm(now, lastRead, LtrDivPower), LtrCoeffPower)
	term4 := weighted(recencyTerm(now, lastWrite, LtwDivPower), LtwCoeffPower)
	term5 := weighted(burstinessTerm(avgReads, AvrDivPower), AvrCoeffPower)
	term6 := weighted(burstinessTerm(avgWrites, AvwDivPower), AvwCoeffPower)

	sum := satAdd(term1, term2)
	sum = satAdd(sum, term3)
	sum = satAdd(sum, term4)
	sum = satAdd(sum, term5)
	sum = satAdd(sum, term6)

	if sum > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(sum)
}

// weighted right-shifts term by 3-coeffPower, the generic "coefficient
// in 0..=3" weighting every temperature term goes through.
func weighted(term uint64, coeffPower uint) uint64 {
	return term >> (3 - coeffPower)
}

// recencyTerm is max(0, 2^32 - ((now-last)>>divPower)).
func recencyTerm(now, last uint64, divPower uint) uint64 {
	var age uint64
	if now > last {
		age = now - last
	}
	decayed := age >> divPower
	const ceiling = uint64(1) << 32
	if decayed >= ceiling {
		return 0
	}
	return ceiling - decayed
}

// burstinessTerm is min(u32::MAX, (u64::MAX-avgDelta)>>divPower).
func burstinessTerm(avgDelta uint64, divPower uint) uint64 {
	val := (math.MaxUint64 - avgDelta) >> divPower
	if val > math.MaxUint32 {
		return math.MaxUint32
	}
	return val
}

// satAdd adds a and b, saturating at math.MaxUint64 on overflow rather
// than wrapping.
func satAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return math.MaxUint64
	}
	return sum
}
