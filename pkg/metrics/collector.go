/*
Copyright 2025 The Subnetguard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics provides Prometheus metrics recording for subnetguard
// admission decisions, subnet lookups, and cache behavior.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Decision result label values.
const (
	DecisionAllowed   = "allowed"
	DecisionDenied    = "denied"
	DecisionWouldDeny = "would_deny" // dry-run suppressed denial
	DecisionError     = "error"
)

// Cache lookup label values.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	admissionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subnetguard_admission_requests_total",
			Help: "Total number of admission requests received",
		},
		[]string{"operation", "resource_kind"},
	)

	admissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subnetguard_admission_decisions_total",
			Help: "Total number of admission decisions by result",
		},
		[]string{"result"},
	)

	subnetLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subnetguard_subnet_lookups_total",
			Help: "Total number of AWS subnet lookups by result",
		},
		[]string{"result"},
	)

	subnetLookupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subnetguard_subnet_lookup_duration_seconds",
			Help:    "Latency of AWS subnet lookups",
			Buckets: prometheus.DefBuckets,
		},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subnetguard_cache_lookups_total",
			Help: "Total number of subnet cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	subnetFreePercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subnetguard_subnet_free_percent",
			Help: "Last observed free-IP percentage per subnet",
		},
		[]string{"subnet_id"},
	)
)

// Collector owns registration of the subnetguard metric set.
type Collector struct {
	mutex          sync.RWMutex
	lastDecisionAt time.Time
}

// NewCollector returns a collector with all metrics pre-initialized so they
// appear in Prometheus output before the first request.
func NewCollector() *Collector {
	initializeMetrics()
	return &Collector{}
}

// initializeMetrics seeds zero values for the fixed label sets.
func initializeMetrics() {
	for _, result := range []string{DecisionAllowed, DecisionDenied, DecisionWouldDeny, DecisionError} {
		admissionDecisions.WithLabelValues(result).Add(0)
	}
	for _, outcome := range []string{CacheHit, CacheMiss} {
		cacheLookups.WithLabelValues(outcome).Add(0)
	}
	subnetLookups.WithLabelValues("success").Add(0)
	subnetLookups.WithLabelValues("not_found").Add(0)
	subnetLookups.WithLabelValues("unavailable").Add(0)
}

// RegisterMetrics registers the metric set with the provided registry,
// falling back to controller-runtime's global registry. Registration errors
// are ignored so restarts and test suites do not panic on duplicates.
func (c *Collector) RegisterMetrics(registry prometheus.Registerer) {
	if registry == nil {
		registry = metrics.Registry
	}

	collectors := []prometheus.Collector{
		admissionRequests,
		admissionDecisions,
		subnetLookups,
		subnetLookupDuration,
		cacheLookups,
		subnetFreePercent,
	}
	for _, collector := range collectors {
		_ = registry.Register(collector)
	}
}

// RecordDecision records the result of one admission decision.
func (c *Collector) RecordDecision(result string) {
	c.mutex.Lock()
	c.lastDecisionAt = time.Now()
	c.mutex.Unlock()

	admissionDecisions.WithLabelValues(result).Inc()
}

// LastDecisionAt reports when the collector last saw a decision.
func (c *Collector) LastDecisionAt() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastDecisionAt
}

// RecordRequest records one inbound admission request.
func RecordRequest(operation, resourceKind string) {
	admissionRequests.WithLabelValues(operation, resourceKind).Inc()
}

// RecordSubnetLookup records one AWS subnet lookup with its latency.
func RecordSubnetLookup(result string, duration time.Duration) {
	subnetLookups.WithLabelValues(result).Inc()
	subnetLookupDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(outcome string) {
	cacheLookups.WithLabelValues(outcome).Inc()
}

// RecordSubnetFreePercent records the last observed free percentage for a
// subnet.
func RecordSubnetFreePercent(subnetID string, percent float64) {
	subnetFreePercent.WithLabelValues(subnetID).Set(percent)
}
