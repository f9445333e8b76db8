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

// Package webhook implements the admission decision engine for Karpenter
// NodeClaim creation: request parsing, subnet resolution, threshold policy
// evaluation, dry-run gating, and admission response construction.
//
// The flow per request is linear:
//
//	request → parse subnet ids → cached subnet usage → threshold policy
//	        → dry-run gate → response
//
// Only CREATE operations on karpenter.sh NodeClaims are evaluated. A
// NodeClaim names its subnets either directly through
// spec.subnetSelector["aws-ids"] (comma-separated subnet ids) or indirectly
// through spec.nodeClassRef, which is resolved against the cluster API.
// When several subnets are candidates, all of them must clear the free-IP
// threshold for the claim to be admitted.
//
// The webhook never mutates objects and keeps no state beyond the transient
// subnet usage cache it is given.
package webhook
