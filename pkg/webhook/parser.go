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
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ahoma/subnetguard/pkg/apis"
)

// Governed resource identity: only CREATE of karpenter.sh NodeClaims is
// evaluated, everything else passes through.
const (
	GovernedGroup = "karpenter.sh"
	GovernedKind  = "NodeClaim"
)

// subnetIDsKey is the subnet-selector key carrying explicit subnet ids,
// comma-separated.
const subnetIDsKey = "aws-ids"

// nodeClassGroup is the API group of the AWS node-class objects a NodeClaim
// may reference instead of naming subnets directly.
const nodeClassGroup = "karpenter.k8s.aws"

// NodeClassRef points at the cloud-specific provisioning parameters for a
// claim, including its candidate subnets.
type NodeClassRef struct {
	Group string `json:"group,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Name  string `json:"name"`
}

// nodeClaim is the slice of a Karpenter NodeClaim the webhook cares about.
type nodeClaim struct {
	Spec struct {
		SubnetSelector map[string]string `json:"subnetSelector,omitempty"`
		NodeClassRef   *NodeClassRef     `json:"nodeClassRef,omitempty"`
	} `json:"spec"`
}

// NodeClassResolver maps a node-class reference to zero or more candidate
// subnet ids. The backing lookup lives outside this package.
type NodeClassResolver interface {
	Resolve(ctx context.Context, ref NodeClassRef) ([]string, error)
}

// ClusterNodeClassResolver resolves node-class references by reading the
// referenced object from the cluster API and collecting the subnet ids named
// in its subnet selector terms.
type ClusterNodeClassResolver struct {
	Client client.Client
}

// NewClusterNodeClassResolver creates a resolver backed by the given client.
func NewClusterNodeClassResolver(c client.Client) *ClusterNodeClassResolver {
	return &ClusterNodeClassResolver{Client: c}
}

// Resolve reads the referenced node class and returns the ids of its
// spec.subnetSelectorTerms entries. Tag-based terms carry no id and are
// skipped; they are matched by Karpenter at provisioning time, not here.
func (r *ClusterNodeClassResolver) Resolve(ctx context.Context, ref NodeClassRef) ([]string, error) {
	group := ref.Group
	if group == "" {
		group = nodeClassGroup
	}
	kind := ref.Kind
	if kind == "" {
		kind = "EC2NodeClass"
	}

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(schema.GroupVersionKind{Group: group, Version: "v1", Kind: kind})

	if err := r.Client.Get(ctx, client.ObjectKey{Name: ref.Name}, obj); err != nil {
		return nil, fmt.Errorf("reading node class %q: %w", ref.Name, err)
	}

	terms, found, err := unstructured.NestedSlice(obj.Object, "spec", "subnetSelectorTerms")
	if err != nil || !found {
		return nil, nil
	}

	var subnetIDs []string
	for _, term := range terms {
		m, ok := term.(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := m["id"].(string); ok && id != "" {
			subnetIDs = append(subnetIDs, id)
		}
	}
	return subnetIDs, nil
}

// RequestParser extracts the subnet ids an admission request targets, either
// directly from the claim's subnet selector or indirectly through its
// node-class reference.
type RequestParser struct {
	Resolver NodeClassResolver
}

// NewRequestParser creates a parser. The resolver may be nil, in which case
// node-class references cannot be resolved and count as no subnet source.
func NewRequestParser(resolver NodeClassResolver) *RequestParser {
	return &RequestParser{Resolver: resolver}
}

// ExtractSubnetIDs returns the candidate subnet ids for a governed creation
// request, in resolution order. A claim carrying no subnet source at all
// yields an empty result with no error; an undecodable body yields
// ErrMalformedRequest; a subnet source that resolves to nothing usable
// yields ErrNoSubnet.
func (p *RequestParser) ExtractSubnetIDs(ctx context.Context, rawObject []byte) ([]string, error) {
	if len(rawObject) == 0 {
		return nil, apis.NewMalformedRequestError(fmt.Errorf("empty object"))
	}

	var claim nodeClaim
	if err := json.Unmarshal(rawObject, &claim); err != nil {
		return nil, apis.NewMalformedRequestError(err)
	}

	// Direct subnet ids take precedence over the node-class indirection.
	if raw, ok := claim.Spec.SubnetSelector[subnetIDsKey]; ok {
		subnetIDs := splitSubnetIDs(raw)
		if len(subnetIDs) == 0 {
			return nil, apis.NewNoSubnetError(fmt.Errorf("subnet selector %q is empty", subnetIDsKey))
		}
		return subnetIDs, nil
	}

	if ref := claim.Spec.NodeClassRef; ref != nil && ref.Name != "" {
		if p.Resolver == nil {
			return nil, nil
		}
		subnetIDs, err := p.Resolver.Resolve(ctx, *ref)
		if err != nil {
			return nil, apis.NewNoSubnetError(err)
		}
		return subnetIDs, nil
	}

	// No subnet source on the claim; the caller allows these.
	return nil, nil
}

// splitSubnetIDs splits a comma-separated id list, dropping empty segments.
func splitSubnetIDs(raw string) []string {
	var subnetIDs []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			subnetIDs = append(subnetIDs, id)
		}
	}
	return subnetIDs
}
