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
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// FileKind tells RecordAccess what kind of filesystem object an access
// targeted. Only FileKindRegular files with a non-zero link count are
// tracked, matching the original hot-tracking subsystem's precondition
// on regular files that are still reachable by a directory entry.
type FileKind int

const (
	FileKindRegular FileKind = iota
	FileKindOther
)

// Clock supplies the wall-clock time RecordAccess and the aging worker
// stamp samples with, expressed as nanoseconds since an arbitrary
// epoch. Tests substitute a fake clock to make temperature
// calculations deterministic.
type Clock interface {
	NowNanos() uint64
}

type systemClock struct{}

func (systemClock) NowNanos() uint64 { return uint64(time.Now().UnixNano()) }

// Config holds the process-wide, per-Root knobs read at event time so
// changes take effect without a restart.
type Config struct {
	// HotMemHighThresh is the high-watermark above which the aging
	// worker's sweep evicts items, given as a human-readable byte
	// quantity ("512M", "2G"); the empty string disables the sweep.
	HotMemHighThresh string
	// HotUpdateIntervalSeconds is the aging worker's period.
	HotUpdateIntervalSeconds int
}

// ConfigDefaults is the JSON document SetConfigJson applies when a
// Root is constructed without an explicit configuration.
const ConfigDefaults = `{"HotMemHighThresh":"","HotUpdateIntervalSeconds":150}`

// Root is a per-filesystem hot-tracking engine: it owns the inode
// index, both heat maps, the size account, the aging worker, and the
// allocators backing inode and range items. The zero value is not
// usable; construct one with NewRoot.
type Root struct {
	Clock Clock

	cmu    sync.Mutex
	config Config

	enabled int32 // atomic bool

	inodes    *Index[InodeItem]
	inodeHeat *HeatMap[InodeItem, *InodeItem]
	rangeHeat *HeatMap[RangeItem, *RangeItem]

	account SizeAccount
	reclaim *Reclaimer

	inodeSlab *Slab[InodeItem]
	rangeSlab *Slab[RangeItem]

	limiter *rate.Limiter

	worker *worker

	metrics *Collector
}

// NewRoot returns a Root with default configuration, not yet enabled.
func NewRoot() *Root {
	r := &Root{Clock: systemClock{}}
	if err := r.SetConfigJson(ConfigDefaults); err != nil {
		panic(errors.Wrap(err, "hottrack: default configuration error"))
	}
	return r
}

// SetConfigJson replaces the Root's configuration from a JSON document.
func (r *Root) SetConfigJson(configJson string) error {
	var config Config
	if err := json.Unmarshal([]byte(configJson), &config); err != nil {
		return errors.Wrap(err, "hottrack: invalid configuration")
	}
	if config.HotMemHighThresh != "" {
		if _, err := ParseBytes(config.HotMemHighThresh); err != nil {
			return errors.Wrap(err, "hottrack: invalid configuration")
		}
	}
	if config.HotUpdateIntervalSeconds <= 0 {
		config.HotUpdateIntervalSeconds = DefaultUpdateIntervalSeconds
	}
	r.cmu.Lock()
	r.config = config
	r.cmu.Unlock()
	return nil
}

// GetConfigJson returns the Root's current configuration as JSON.
func (r *Root) GetConfigJson() string {
	r.cmu.Lock()
	config := r.config
	r.cmu.Unlock()
	out, err := json.Marshal(&config)
	if err != nil {
		return ""
	}
	return string(out)
}

func (r *Root) highWatermarkBytes() int64 {
	r.cmu.Lock()
	thresh := r.config.HotMemHighThresh
	r.cmu.Unlock()
	if thresh == "" {
		return 0
	}
	// SetConfigJson already validated this string; a parse failure here
	// can only mean the field was poked directly, so treat it as "unset"
	// rather than panicking on a sweep that runs on a timer.
	bytes, err := ParseBytes(thresh)
	if err != nil {
		return 0
	}
	return bytes
}

func (r *Root) updateInterval() time.Duration {
	r.cmu.Lock()
	defer r.cmu.Unlock()
	return time.Duration(r.config.HotUpdateIntervalSeconds) * time.Second
}

// IsEnabled reports whether tracking is currently active. RecordAccess
// checks this first so the ingress fast path on an untracked root is a
// single branch.
func (r *Root) IsEnabled() bool {
	return atomic.LoadInt32(&r.enabled) != 0
}

// Enable installs the Root's indices, heat maps, allocators and aging
// worker, and flips the enabled flag so RecordAccess starts doing work.
func (r *Root) Enable() error {
	if !atomic.CompareAndSwapInt32(&r.enabled, 0, 1) {
		return ErrAlreadyEnabled
	}

	r.reclaim = NewReclaimer()
	r.inodeSlab = NewSlab[InodeItem]()
	r.rangeSlab = NewSlab[RangeItem]()
	r.inodeHeat = NewHeatMap[InodeItem, *InodeItem]()
	r.rangeHeat = NewHeatMap[RangeItem, *RangeItem]()
	r.limiter = rate.NewLimiter(rate.Limit(64), 1)

	r.inodes = NewIndex(r.inodeOps(), r.reclaim, int64(inodeItemBytes), r.account.accountInode)
	r.metrics = NewCollector(r)
	r.inodes.OnRaceLoss(r.metrics.addInsertRaceLoss)

	r.worker = startWorker(r, r.updateInterval())

	log.Infof("hottrack: enabled\n")
	return nil
}

// Disable cancels the aging worker, drops the index's reference on
// every remaining inode, waits for every deferred free to run, and
// releases the backing allocators. After Disable returns, the Root is
// quiescent: no worker is scheduled for it and zero bytes remain
// attributed to it.
func (r *Root) Disable() error {
	if !atomic.CompareAndSwapInt32(&r.enabled, 1, 0) {
		return ErrDisabled
	}

	r.worker.stop()
	r.inodes.RemoveAll()
	r.reclaim.Barrier()

	var result *multierror.Error
	if err := r.inodeSlab.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "closing inode slab"))
	}
	if err := r.rangeSlab.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "closing range slab"))
	}

	log.Infof("hottrack: disabled\n")
	return result.ErrorOrNil()
}

// RecordAccess is the fast-path ingress API invoked from an I/O hook.
// It is infallible from the caller's perspective: an allocation
// failure or a precondition miss simply drops this update, and
// recording resumes cleanly on the next call.
func (r *Root) RecordAccess(fileID uint64, kind FileKind, linkCount uint32, offset, length uint64, isWrite bool) {
	if !r.IsEnabled() {
		return
	}
	if kind != FileKindRegular || linkCount == 0 || length == 0 {
		return
	}

	now := r.Clock.NowNanos()

	inode, _, err := r.inodes.FindOrInsert(fileID)
	if err != nil {
		if r.metrics != nil {
			r.metrics.addAllocFailure()
		}
		log.Debugf("hottrack: dropping access to %d: %s\n", fileID, err)
		return
	}
	UpdateSample(inode.Freq, now, isWrite)

	start := alignedStart(offset)
	end := offset + length
	for start < end {
		rg, _, err := inode.ranges.FindOrInsert(start)
		if err == nil {
			UpdateSample(rg.Freq, now, isWrite)
			inode.ranges.DropRef(rg)
		}
		start += RangeSize
	}

	r.inodes.DropRef(inode)
}

// OnUnlink removes fileID's InodeItem immediately if present. It forces
// removal from the index regardless of how many external references
// remain outstanding; those holders keep their reference valid until
// they drop it, but the item stops being reachable through the index
// or the heat map right away. A later RecordAccess for the same
// fileID re-creates the item cleanly.
func (r *Root) OnUnlink(fileID uint64) {
	if !r.IsEnabled() {
		return
	}
	r.inodes.Remove(fileID)
}

// SizeAccount exposes the Root's live byte and item counters.
func (r *Root) SizeAccount() *SizeAccount {
	return &r.account
}

// Metrics returns the Collector tracking this Root, valid once Enable
// has been called. Register it with a prometheus.Registerer to expose
// hottrack's counters and gauges.
func (r *Root) Metrics() *Collector {
	return r.metrics
}

const inodeItemBytes = 96  // approximate sizeof InodeItem for accounting
const rangeItemBytes = 80  // approximate sizeof RangeItem for accounting

func (r *Root) inodeOps() ItemOps[InodeItem] {
	return ItemOps[InodeItem]{
		Alloc: func(key uint64) (*InodeItem, error) {
			inode, err := r.inodeSlab.AllocZeroed()
			if err != nil {
				return nil, err
			}
			inode.FileID = key
			inode.Freq = NewFreqSample()
			inode.root = r
			inode.refcount.n = 1
			inode.ranges = NewIndex(r.rangeOps(inode), r.reclaim, int64(rangeItemBytes), r.account.accountRange)
			if r.metrics != nil {
				inode.ranges.OnRaceLoss(r.metrics.addInsertRaceLoss)
			}
			// Seed the item into the coldest bucket; the aging worker
			// is what subsequently places it based on real history.
			r.inodeHeat.Rebucket(inode, 0)
			return inode, nil
		},
		KeyOf:      func(inode *InodeItem) uint64 { return inode.FileID },
		Inc:        func(inode *InodeItem) { inode.inc() },
		Dec:        func(inode *InodeItem) bool { return inode.dec() },
		UnlinkHeat: func(inode *InodeItem) { r.inodeHeat.Remove(inode) },
		Release: func(inode *InodeItem) {
			inode.ranges.RemoveAll()
			r.inodeSlab.Free(inode)
		},
	}
}

func (r *Root) rangeOps(inode *InodeItem) ItemOps[RangeItem] {
	return ItemOps[RangeItem]{
		Alloc: func(key uint64) (*RangeItem, error) {
			rg, err := r.rangeSlab.AllocZeroed()
			if err != nil {
				return nil, err
			}
			rg.Start = key
			rg.Len = RangeSize
			rg.Freq = NewFreqSample()
			rg.inode = inode
			rg.refcount.n = 1
			r.rangeHeat.Rebucket(rg, 0)
			return rg, nil
		},
		KeyOf:      func(rg *RangeItem) uint64 { return rg.Start },
		Inc:        func(rg *RangeItem) { rg.inc() },
		Dec:        func(rg *RangeItem) bool { return rg.dec() },
		UnlinkHeat: func(rg *RangeItem) { r.rangeHeat.Remove(rg) },
		Release: func(rg *RangeItem) {
			r.rangeSlab.Free(rg)
		},
	}
}
