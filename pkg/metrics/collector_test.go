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

package metrics

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Collector", func() {
	var collector *Collector

	BeforeEach(func() {
		collector = NewCollector()
	})

	Describe("NewCollector", func() {
		It("should create a collector", func() {
			Expect(collector).NotTo(BeNil())
		})

		It("should start with a zero last decision time", func() {
			Expect(collector.LastDecisionAt().IsZero()).To(BeTrue())
		})
	})

	Describe("RegisterMetrics", func() {
		It("should register the metric set with a custom registry", func() {
			registry := prometheus.NewRegistry()
			collector.RegisterMetrics(registry)

			families, err := registry.Gather()
			Expect(err).NotTo(HaveOccurred())

			names := make([]string, 0, len(families))
			for _, family := range families {
				names = append(names, family.GetName())
			}
			Expect(names).To(ContainElements(
				"subnetguard_admission_decisions_total",
				"subnetguard_subnet_lookups_total",
				"subnetguard_cache_lookups_total",
			))
		})

		It("should tolerate duplicate registration", func() {
			registry := prometheus.NewRegistry()
			collector.RegisterMetrics(registry)
			Expect(func() { collector.RegisterMetrics(registry) }).NotTo(Panic())
		})
	})

	Describe("RecordDecision", func() {
		It("should increment the decision counter", func() {
			before := testutil.ToFloat64(admissionDecisions.WithLabelValues(DecisionDenied))
			collector.RecordDecision(DecisionDenied)
			after := testutil.ToFloat64(admissionDecisions.WithLabelValues(DecisionDenied))
			Expect(after).To(Equal(before + 1))
		})

		It("should advance the last decision time", func() {
			start := time.Now()
			collector.RecordDecision(DecisionAllowed)
			Expect(collector.LastDecisionAt()).To(BeTemporally(">=", start))
		})
	})

	Describe("package-level recorders", func() {
		It("should count admission requests by operation and kind", func() {
			before := testutil.ToFloat64(admissionRequests.WithLabelValues("CREATE", "NodeClaim"))
			RecordRequest("CREATE", "NodeClaim")
			after := testutil.ToFloat64(admissionRequests.WithLabelValues("CREATE", "NodeClaim"))
			Expect(after).To(Equal(before + 1))
		})

		It("should count subnet lookups by result", func() {
			before := testutil.ToFloat64(subnetLookups.WithLabelValues("success"))
			RecordSubnetLookup("success", 20*time.Millisecond)
			after := testutil.ToFloat64(subnetLookups.WithLabelValues("success"))
			Expect(after).To(Equal(before + 1))
		})

		It("should count cache lookups by outcome", func() {
			before := testutil.ToFloat64(cacheLookups.WithLabelValues(CacheHit))
			RecordCacheLookup(CacheHit)
			after := testutil.ToFloat64(cacheLookups.WithLabelValues(CacheHit))
			Expect(after).To(Equal(before + 1))
		})

		It("should track the last observed free percentage per subnet", func() {
			RecordSubnetFreePercent("subnet-0a1", 42.5)
			Expect(testutil.ToFloat64(subnetFreePercent.WithLabelValues("subnet-0a1"))).To(Equal(42.5))

			RecordSubnetFreePercent("subnet-0a1", 7.0)
			Expect(testutil.ToFloat64(subnetFreePercent.WithLabelValues("subnet-0a1"))).To(Equal(7.0))
		})
	})
})
