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

package webhook

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ahoma/subnetguard/pkg/apis"
)

func usage(subnetID string, available, total int64) apis.SubnetUsage {
	return apis.SubnetUsage{SubnetID: subnetID, AvailableIPs: available, TotalIPs: total}
}

var _ = Describe("Evaluate", func() {
	It("should allow a subnet comfortably above the threshold", func() {
		verdict := Evaluate([]apis.SubnetUsage{usage("subnet-a", 150, 1000)}, 10)

		Expect(verdict.Allowed).To(BeTrue())
		Expect(verdict.SubnetID).To(Equal("subnet-a"))
		Expect(verdict.FreePercent).To(BeNumerically("~", 15.0, 1e-9))
	})

	It("should deny a subnet below the threshold with a descriptive reason", func() {
		verdict := Evaluate([]apis.SubnetUsage{usage("subnet-a", 50, 1000)}, 10)

		Expect(verdict.Allowed).To(BeFalse())
		Expect(verdict.SubnetID).To(Equal("subnet-a"))
		Expect(verdict.FreePercent).To(BeNumerically("~", 5.0, 1e-9))
		Expect(verdict.Reason).To(ContainSubstring("subnet-a"))
		Expect(verdict.Reason).To(ContainSubstring("5"))
		Expect(verdict.Reason).To(ContainSubstring("10"))
	})

	It("should allow a subnet sitting exactly at the threshold", func() {
		verdict := Evaluate([]apis.SubnetUsage{usage("subnet-a", 100, 1000)}, 10)
		Expect(verdict.Allowed).To(BeTrue())
	})

	It("should deny when any candidate subnet is below the threshold", func() {
		verdict := Evaluate([]apis.SubnetUsage{
			usage("subnet-a", 900, 1000),
			usage("subnet-b", 10, 1000),
			usage("subnet-c", 500, 1000),
		}, 10)

		Expect(verdict.Allowed).To(BeFalse())
		Expect(verdict.SubnetID).To(Equal("subnet-b"))
	})

	It("should name the first failing subnet in resolution order", func() {
		verdict := Evaluate([]apis.SubnetUsage{
			usage("subnet-a", 10, 1000),
			usage("subnet-b", 20, 1000),
		}, 10)

		Expect(verdict.Allowed).To(BeFalse())
		Expect(verdict.SubnetID).To(Equal("subnet-a"))
		Expect(verdict.Reason).To(ContainSubstring("subnet-a"))
	})

	It("should allow an empty candidate set", func() {
		verdict := Evaluate(nil, 10)
		Expect(verdict.Allowed).To(BeTrue())
		Expect(verdict.Reason).To(BeEmpty())
	})

	It("should treat a zero-capacity subnet as exhausted", func() {
		verdict := Evaluate([]apis.SubnetUsage{usage("subnet-a", 0, 0)}, 10)
		Expect(verdict.Allowed).To(BeFalse())
	})
})

var _ = Describe("ApplyDryRun", func() {
	It("should pass verdicts through unchanged when disabled", func() {
		denied := apis.Verdict{Allowed: false, SubnetID: "subnet-a", Reason: "too few IPs"}
		Expect(ApplyDryRun(denied, false)).To(Equal(denied))

		allowed := apis.Verdict{Allowed: true}
		Expect(ApplyDryRun(allowed, false)).To(Equal(allowed))
	})

	It("should force denials to allowed while preserving the reason", func() {
		denied := apis.Verdict{Allowed: false, SubnetID: "subnet-a", FreePercent: 5, Reason: "too few IPs"}
		gated := ApplyDryRun(denied, true)

		Expect(gated.Allowed).To(BeTrue())
		Expect(gated.Reason).To(Equal("too few IPs"))
		Expect(gated.SubnetID).To(Equal("subnet-a"))
		Expect(gated.FreePercent).To(Equal(denied.FreePercent))
	})
})
