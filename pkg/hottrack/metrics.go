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
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metric descriptor indices and descriptor table, following
// a fixed-index convention: Collect picks each metric's descriptor by
// its constant index into descriptors.
const (
	sizeBytesDesc = iota
	itemCountDesc
	bucketOccupancyDesc
	evictionsDesc
	allocFailuresDesc
	insertRaceLossesDesc
)

var descriptors = []*prometheus.Desc{
	sizeBytesDesc: prometheus.NewDesc(
		"hottrack_size_account_bytes",
		"Bytes currently attributed to live tracked items, by item kind.",
		[]string{"kind"}, nil,
	),
	itemCountDesc: prometheus.NewDesc(
		"hottrack_item_count",
		"Number of live tracked items, by item kind.",
		[]string{"kind"}, nil,
	),
	bucketOccupancyDesc: prometheus.NewDesc(
		"hottrack_heat_bucket_items",
		"Number of items currently linked in a heat-map bucket.",
		[]string{"kind", "bucket"}, nil,
	),
	evictionsDesc: prometheus.NewDesc(
		"hottrack_evictions_total",
		"Total number of items evicted by the memory governor or shrinker.",
		nil, nil,
	),
	allocFailuresDesc: prometheus.NewDesc(
		"hottrack_alloc_failures_total",
		"Total number of item allocation failures on the ingress path.",
		nil, nil,
	),
	insertRaceLossesDesc: prometheus.NewDesc(
		"hottrack_insert_race_losses_total",
		"Total number of find_or_insert candidates discarded after losing the installation race.",
		nil, nil,
	),
}

// Collector adapts a Root to prometheus.Collector. Enable creates it;
// registering it with a prometheus.Registerer is left to the caller
// (see Root.Metrics), and Disable does not unregister it.
type Collector struct {
	root *Root

	evictions       uint64
	allocFailures   uint64
	insertRaceLosses uint64
}

// NewCollector returns a Collector reporting on root's live state.
func NewCollector(root *Root) *Collector {
	return &Collector{root: root}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	acct := c.root.SizeAccount()

	ch <- prometheus.MustNewConstMetric(descriptors[sizeBytesDesc], prometheus.GaugeValue, float64(acct.InodeBytes()), "inode")
	ch <- prometheus.MustNewConstMetric(descriptors[sizeBytesDesc], prometheus.GaugeValue, float64(acct.RangeBytes()), "range")
	ch <- prometheus.MustNewConstMetric(descriptors[itemCountDesc], prometheus.GaugeValue, float64(c.root.inodes.Len()), "inode")

	if c.root.inodeHeat != nil {
		for b := 0; b < MapSize; b++ {
			if n := c.root.inodeHeat.BucketLen(b); n > 0 {
				ch <- prometheus.MustNewConstMetric(descriptors[bucketOccupancyDesc], prometheus.GaugeValue, float64(n), "inode", strconv.Itoa(b))
			}
		}
	}
	if c.root.rangeHeat != nil {
		for b := 0; b < MapSize; b++ {
			if n := c.root.rangeHeat.BucketLen(b); n > 0 {
				ch <- prometheus.MustNewConstMetric(descriptors[bucketOccupancyDesc], prometheus.GaugeValue, float64(n), "range", strconv.Itoa(b))
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(descriptors[evictionsDesc], prometheus.CounterValue, float64(atomic.LoadUint64(&c.evictions)))
	ch <- prometheus.MustNewConstMetric(descriptors[allocFailuresDesc], prometheus.CounterValue, float64(atomic.LoadUint64(&c.allocFailures)))
	ch <- prometheus.MustNewConstMetric(descriptors[insertRaceLossesDesc], prometheus.CounterValue, float64(atomic.LoadUint64(&c.insertRaceLosses)))
}

func (c *Collector) addEviction(n uint64)        { atomic.AddUint64(&c.evictions, n) }
func (c *Collector) addAllocFailure()            { atomic.AddUint64(&c.allocFailures, 1) }
func (c *Collector) addInsertRaceLoss()          { atomic.AddUint64(&c.insertRaceLosses, 1) }
