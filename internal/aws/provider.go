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

// Package aws implements the subnet information provider on top of the EC2
// DescribeSubnets API.
package aws

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/smithy-go"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ahoma/subnetguard/pkg/apis"
	"github.com/ahoma/subnetguard/pkg/metrics"
)

// DefaultDescribeTimeout bounds a single DescribeSubnets call so a provider
// outage degrades to a fast failure rather than an indefinite hang.
const DefaultDescribeTimeout = 5 * time.Second

// subnetNotFoundCode is the EC2 API error code returned for unknown subnet ids.
const subnetNotFoundCode = "InvalidSubnetID.NotFound"

// EC2SubnetsAPI is the slice of the EC2 client used by the provider. The AWS
// SDK ships no mock, so tests substitute their own implementation of this
// interface.
type EC2SubnetsAPI interface {
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
}

// newEC2Client builds the real EC2 client; overridden in tests.
var newEC2Client = func(cfg awssdk.Config) EC2SubnetsAPI {
	return ec2.NewFromConfig(cfg)
}

// SubnetProvider fetches current address-usage figures for AWS subnets. It
// keeps no local state; every Describe call is one outbound API request.
type SubnetProvider struct {
	client  EC2SubnetsAPI
	timeout time.Duration
}

// NewSubnetProvider loads the default AWS configuration (environment,
// shared config, IMDS) and returns a provider backed by a real EC2 client.
func NewSubnetProvider(ctx context.Context, region string, timeout time.Duration) (*SubnetProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	if timeout <= 0 {
		timeout = DefaultDescribeTimeout
	}
	return &SubnetProvider{
		client:  newEC2Client(cfg),
		timeout: timeout,
	}, nil
}

// NewSubnetProviderWithClient returns a provider backed by the given client.
// Used by tests and by callers that manage their own AWS configuration.
func NewSubnetProviderWithClient(client EC2SubnetsAPI, timeout time.Duration) *SubnetProvider {
	if timeout <= 0 {
		timeout = DefaultDescribeTimeout
	}
	return &SubnetProvider{client: client, timeout: timeout}
}

// Describe fetches the current usage figures for one subnet. Failures are
// classified as apis.ErrSubnetNotFound or apis.ErrProviderUnavailable; no
// retry is attempted here.
func (p *SubnetProvider) Describe(ctx context.Context, subnetID string) (apis.SubnetUsage, error) {
	if subnetID == "" {
		return apis.SubnetUsage{}, apis.NewSubnetNotFoundError(subnetID, errors.New("empty subnet id"))
	}

	log := logf.FromContext(ctx).WithName("subnet-provider")

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	out, err := p.client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		SubnetIds: []string{subnetID},
	})
	if err != nil {
		classified := classifyDescribeError(subnetID, err)
		metrics.RecordSubnetLookup(lookupResult(classified), time.Since(started))
		return apis.SubnetUsage{}, classified
	}
	metrics.RecordSubnetLookup("success", time.Since(started))

	if len(out.Subnets) == 0 {
		return apis.SubnetUsage{}, apis.NewSubnetNotFoundError(subnetID, nil)
	}

	subnet := out.Subnets[0]
	cidr := awssdk.ToString(subnet.CidrBlock)

	total, err := usableAddresses(cidr)
	if err != nil {
		return apis.SubnetUsage{}, apis.NewProviderUnavailableError(subnetID, fmt.Errorf("parsing CIDR %q: %w", cidr, err))
	}

	usage := apis.SubnetUsage{
		SubnetID:     subnetID,
		AvailableIPs: int64(awssdk.ToInt32(subnet.AvailableIpAddressCount)),
		TotalIPs:     total,
		ObservedAt:   time.Now(),
	}

	log.V(1).Info("Described subnet",
		"subnet-id", subnetID,
		"cidr", cidr,
		"total-ips", usage.TotalIPs,
		"available-ips", usage.AvailableIPs,
	)

	return usage, nil
}

// usableAddresses returns the number of allocatable addresses in a CIDR
// block: the block size minus the addresses AWS reserves in every subnet.
func usableAddresses(cidr string) (int64, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return 0, err
	}

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits < 0 || hostBits > 62 {
		return 0, fmt.Errorf("unsupported prefix length /%d", prefix.Bits())
	}

	total := int64(1)<<hostBits - apis.AWSReservedIPs
	if total < 0 {
		total = 0
	}
	return total, nil
}

// classifyDescribeError maps an EC2 API failure onto the provider error
// taxonomy. Unknown-subnet codes become NotFound; everything else (throttle,
// auth, network, timeout) is Unavailable.
func classifyDescribeError(subnetID string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == subnetNotFoundCode {
		return apis.NewSubnetNotFoundError(subnetID, err)
	}
	return apis.NewProviderUnavailableError(subnetID, err)
}

// lookupResult converts a classified describe error into a metric label.
func lookupResult(err error) string {
	if errors.Is(err, apis.ErrSubnetNotFound) {
		return "not_found"
	}
	return "unavailable"
}
