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
	"fmt"

	"github.com/ahoma/subnetguard/pkg/apis"
)

// DefaultThresholdPercent is the minimum free-IP percentage required of
// every candidate subnet before a claim is admitted.
const DefaultThresholdPercent = 10.0

// Evaluate applies the threshold policy across all candidate subnets. The
// overall verdict is the AND over subnets: any subnet strictly below the
// threshold denies the claim. A subnet sitting exactly at the threshold is
// allowed. The denial reason names the first failing subnet in resolution
// order.
func Evaluate(usages []apis.SubnetUsage, thresholdPercent float64) apis.Verdict {
	for _, usage := range usages {
		freePercent := usage.FreePercent()
		if freePercent < thresholdPercent {
			return apis.Verdict{
				Allowed:     false,
				SubnetID:    usage.SubnetID,
				FreePercent: freePercent,
				Reason: fmt.Sprintf(
					"subnet %s has insufficient free IPs: %.1f%% free (%d of %d), threshold is %.1f%%",
					usage.SubnetID, freePercent, usage.AvailableIPs, usage.TotalIPs, thresholdPercent,
				),
			}
		}
	}

	verdict := apis.Verdict{Allowed: true}
	if len(usages) > 0 {
		verdict.SubnetID = usages[0].SubnetID
		verdict.FreePercent = usages[0].FreePercent()
	}
	return verdict
}

// ApplyDryRun forces a verdict to allowed when dry-run mode is enabled,
// leaving the reason untouched so downstream logging still records what
// would have happened.
func ApplyDryRun(verdict apis.Verdict, dryRunEnabled bool) apis.Verdict {
	if !dryRunEnabled {
		return verdict
	}
	verdict.Allowed = true
	return verdict
}
