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

// Package apis defines the core types shared across the subnetguard webhook:
// subnet usage observations, admission verdicts, and the typed errors raised
// by request parsing and cloud subnet lookups.
package apis

import "time"

// AWSReservedIPs is the number of addresses AWS reserves in every subnet
// (network address, VPC router, DNS, future use, broadcast). They are never
// allocatable, so they are excluded from a subnet's usable capacity.
const AWSReservedIPs = 5

// SubnetUsage is a point-in-time observation of one subnet's address usage.
type SubnetUsage struct {
	// SubnetID is the AWS subnet identifier (subnet-xxxx)
	SubnetID string `json:"subnetId"`

	// AvailableIPs is the number of addresses still free in the subnet
	AvailableIPs int64 `json:"availableIps"`

	// TotalIPs is the usable capacity of the subnet's CIDR block
	// (block size minus the AWS-reserved addresses)
	TotalIPs int64 `json:"totalIps"`

	// ObservedAt records when the figures were fetched from AWS
	ObservedAt time.Time `json:"observedAt"`
}

// FreePercent returns the share of the subnet's usable addresses that are
// still free, clamped to [0, 100]. A subnet with no usable capacity reports 0.
func (u SubnetUsage) FreePercent() float64 {
	if u.TotalIPs <= 0 {
		return 0
	}
	percent := 100 * float64(u.AvailableIPs) / float64(u.TotalIPs)
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// Verdict is the outcome of evaluating one admission request against the
// IP-availability threshold. One verdict exists per request; it is never
// persisted.
type Verdict struct {
	// Allowed indicates whether the creation should proceed
	Allowed bool `json:"allowed"`

	// SubnetID names the subnet the verdict hinges on. For a denial this is
	// the first subnet that fell below the threshold in resolution order.
	SubnetID string `json:"subnetId,omitempty"`

	// FreePercent is the free-IP percentage of SubnetID at decision time
	FreePercent float64 `json:"freePercent,omitempty"`

	// Reason is a human-readable explanation, populated on denial and kept
	// intact when dry-run mode flips the verdict to allowed
	Reason string `json:"reason,omitempty"`
}
