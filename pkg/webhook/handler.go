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
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/ahoma/subnetguard/pkg/apis"
	"github.com/ahoma/subnetguard/pkg/metrics"
)

// SubnetUsageGetter returns the current usage for a subnet, normally backed
// by the IP availability cache.
type SubnetUsageGetter interface {
	Get(ctx context.Context, subnetID string) (apis.SubnetUsage, error)
}

// ValidationConfig carries the already-validated policy knobs for the
// handler.
type ValidationConfig struct {
	// ThresholdPercent is the minimum free-IP percentage per subnet
	ThresholdPercent float64

	// DryRun computes and logs verdicts but never blocks creation
	DryRun bool

	// FailOpen allows creation when the subnet lookup is unavailable.
	// Default false: an unreachable provider denies the claim.
	FailOpen bool
}

// ValidationHandler is the admission engine: it parses a request, resolves
// subnet usage through the cache, evaluates the threshold policy, applies
// dry-run gating, and constructs the response. Processing is linear per
// request with no retries.
type ValidationHandler struct {
	Usage     SubnetUsageGetter
	Parser    *RequestParser
	Collector *metrics.Collector
	Config    ValidationConfig
}

// NewValidationHandler creates the admission engine.
func NewValidationHandler(usage SubnetUsageGetter, parser *RequestParser, collector *metrics.Collector, config ValidationConfig) *ValidationHandler {
	if config.ThresholdPercent <= 0 {
		config.ThresholdPercent = DefaultThresholdPercent
	}
	return &ValidationHandler{
		Usage:     usage,
		Parser:    parser,
		Collector: collector,
		Config:    config,
	}
}

// Handle processes one admission request.
func (h *ValidationHandler) Handle(ctx context.Context, req admission.Request) admission.Response {
	logger := log.FromContext(ctx).WithValues(
		"uid", req.UID,
		"kind", req.Kind.Kind,
		"operation", req.Operation,
	)

	metrics.RecordRequest(string(req.Operation), req.Kind.Kind)

	// Only creation of NodeClaims is governed; everything else is allowed
	// without touching the provider.
	if req.Operation != admissionv1.Create || req.Kind.Kind != GovernedKind || req.Kind.Group != GovernedGroup {
		logger.V(1).Info("Request not governed, allowing")
		h.recordDecision(metrics.DecisionAllowed)
		return buildResponse(req.UID, apis.Verdict{Allowed: true})
	}

	subnetIDs, err := h.Parser.ExtractSubnetIDs(ctx, req.Object.Raw)
	if err != nil {
		// Fail closed: a governed request we cannot interpret is denied.
		logger.Error(err, "Failed to extract subnet ids from NodeClaim")
		verdict := apis.Verdict{
			Allowed: false,
			Reason:  fmt.Sprintf("cannot determine target subnets: %v", err),
		}
		return h.finish(logger, req.UID, verdict, metrics.DecisionError)
	}

	if len(subnetIDs) == 0 {
		logger.Info("NodeClaim names no subnets, allowing")
		h.recordDecision(metrics.DecisionAllowed)
		return buildResponse(req.UID, apis.Verdict{Allowed: true})
	}

	usages := make([]apis.SubnetUsage, 0, len(subnetIDs))
	for _, subnetID := range subnetIDs {
		usage, err := h.Usage.Get(ctx, subnetID)
		if err != nil {
			return h.handleLookupFailure(logger, req.UID, subnetID, err)
		}
		metrics.RecordSubnetFreePercent(subnetID, usage.FreePercent())
		usages = append(usages, usage)
	}

	verdict := Evaluate(usages, h.Config.ThresholdPercent)

	for _, usage := range usages {
		logger.Info("Evaluated subnet",
			"subnet-id", usage.SubnetID,
			"available-ips", usage.AvailableIPs,
			"total-ips", usage.TotalIPs,
			"free-percent", fmt.Sprintf("%.1f", usage.FreePercent()),
			"threshold-percent", h.Config.ThresholdPercent,
		)
	}

	result := metrics.DecisionAllowed
	if !verdict.Allowed {
		result = metrics.DecisionDenied
	}
	return h.finish(logger, req.UID, verdict, result)
}

// handleLookupFailure maps a provider failure onto a response per the
// configured error policy.
func (h *ValidationHandler) handleLookupFailure(logger logr.Logger, uid types.UID, subnetID string, err error) admission.Response {
	switch {
	case errors.Is(err, apis.ErrSubnetNotFound):
		logger.Error(err, "Subnet not found", "subnet-id", subnetID)
		verdict := apis.Verdict{
			Allowed:  false,
			SubnetID: subnetID,
			Reason:   fmt.Sprintf("unknown subnet %s", subnetID),
		}
		return h.finish(logger, uid, verdict, metrics.DecisionError)

	default:
		// Provider unavailable. The direction is configurable; either way
		// the outage is logged loudly rather than silently absorbed.
		logger.Error(err, "Subnet lookup unavailable",
			"subnet-id", subnetID,
			"fail-open", h.Config.FailOpen,
		)
		if h.Config.FailOpen {
			verdict := apis.Verdict{
				Allowed:  true,
				SubnetID: subnetID,
				Reason:   fmt.Sprintf("subnet %s lookup unavailable, failing open", subnetID),
			}
			h.recordDecision(metrics.DecisionError)
			return buildResponse(uid, verdict)
		}
		verdict := apis.Verdict{
			Allowed:  false,
			SubnetID: subnetID,
			Reason:   fmt.Sprintf("error querying subnet %s", subnetID),
		}
		return h.finish(logger, uid, verdict, metrics.DecisionError)
	}
}

// finish applies the dry-run gate to a verdict, records the decision, and
// builds the response.
func (h *ValidationHandler) finish(logger logr.Logger, uid types.UID, verdict apis.Verdict, result string) admission.Response {
	gated := ApplyDryRun(verdict, h.Config.DryRun)

	if !verdict.Allowed && gated.Allowed {
		// Dry run suppressed a denial; keep the would-be outcome visible.
		logger.Info("Dry run: would have denied",
			"subnet-id", verdict.SubnetID,
			"reason", verdict.Reason,
		)
		result = metrics.DecisionWouldDeny
	} else if !gated.Allowed {
		logger.Info("Denying NodeClaim", "subnet-id", gated.SubnetID, "reason", gated.Reason)
	}

	h.recordDecision(result)
	return buildResponse(uid, gated)
}

func (h *ValidationHandler) recordDecision(result string) {
	if h.Collector != nil {
		h.Collector.RecordDecision(result)
	}
}

// buildResponse turns a verdict into the wire-level admission response. The
// uid always echoes the request's; the status message carries the reason
// only on denial.
func buildResponse(uid types.UID, verdict apis.Verdict) admission.Response {
	resp := admission.Response{
		AdmissionResponse: admissionv1.AdmissionResponse{
			UID:     uid,
			Allowed: verdict.Allowed,
		},
	}
	if !verdict.Allowed {
		resp.Result = &metav1.Status{
			Code:    http.StatusBadRequest,
			Message: verdict.Reason,
		}
	}
	return resp
}
