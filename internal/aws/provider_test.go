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

package aws

import (
	"context"
	"errors"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ahoma/subnetguard/pkg/apis"
)

// fakeEC2 implements EC2SubnetsAPI for tests and records every call it sees.
type fakeEC2 struct {
	output *ec2.DescribeSubnetsOutput
	err    error
	calls  []string
}

func (f *fakeEC2) DescribeSubnets(_ context.Context, params *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	f.calls = append(f.calls, params.SubnetIds...)
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func subnetOutput(subnetID, cidr string, available int32) *ec2.DescribeSubnetsOutput {
	return &ec2.DescribeSubnetsOutput{
		Subnets: []ec2types.Subnet{
			{
				SubnetId:                awssdk.String(subnetID),
				CidrBlock:               awssdk.String(cidr),
				AvailableIpAddressCount: awssdk.Int32(available),
			},
		},
	}
}

var _ = Describe("SubnetProvider", func() {
	var (
		ctx    context.Context
		client *fakeEC2
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &fakeEC2{}
	})

	Describe("Describe", func() {
		Context("when the subnet exists", func() {
			It("should return usage with capacity derived from the CIDR block", func() {
				// a /24 has 256 addresses, 5 of which AWS reserves
				client.output = subnetOutput("subnet-0a1b2c", "10.0.1.0/24", 113)

				provider := NewSubnetProviderWithClient(client, 0)
				usage, err := provider.Describe(ctx, "subnet-0a1b2c")

				Expect(err).NotTo(HaveOccurred())
				Expect(usage.SubnetID).To(Equal("subnet-0a1b2c"))
				Expect(usage.TotalIPs).To(Equal(int64(251)))
				Expect(usage.AvailableIPs).To(Equal(int64(113)))
				Expect(usage.ObservedAt).NotTo(BeZero())
			})

			It("should issue exactly one DescribeSubnets call per invocation", func() {
				client.output = subnetOutput("subnet-0a1b2c", "10.0.1.0/24", 10)

				provider := NewSubnetProviderWithClient(client, 0)
				_, err := provider.Describe(ctx, "subnet-0a1b2c")
				Expect(err).NotTo(HaveOccurred())
				_, err = provider.Describe(ctx, "subnet-0a1b2c")
				Expect(err).NotTo(HaveOccurred())

				Expect(client.calls).To(Equal([]string{"subnet-0a1b2c", "subnet-0a1b2c"}))
			})

			It("should handle large subnets", func() {
				client.output = subnetOutput("subnet-big", "10.0.0.0/12", 500000)

				provider := NewSubnetProviderWithClient(client, 0)
				usage, err := provider.Describe(ctx, "subnet-big")

				Expect(err).NotTo(HaveOccurred())
				Expect(usage.TotalIPs).To(Equal(int64(1<<20 - 5)))
			})
		})

		Context("when the subnet does not exist", func() {
			It("should map the EC2 not-found code to ErrSubnetNotFound", func() {
				client.err = &smithy.GenericAPIError{
					Code:    "InvalidSubnetID.NotFound",
					Message: "The subnet ID 'subnet-x' does not exist",
				}

				provider := NewSubnetProviderWithClient(client, 0)
				_, err := provider.Describe(ctx, "subnet-x")

				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, apis.ErrSubnetNotFound)).To(BeTrue())
			})

			It("should treat an empty result set as not found", func() {
				client.output = &ec2.DescribeSubnetsOutput{}

				provider := NewSubnetProviderWithClient(client, 0)
				_, err := provider.Describe(ctx, "subnet-gone")

				Expect(errors.Is(err, apis.ErrSubnetNotFound)).To(BeTrue())
			})

			It("should reject an empty subnet id without calling AWS", func() {
				provider := NewSubnetProviderWithClient(client, 0)
				_, err := provider.Describe(ctx, "")

				Expect(errors.Is(err, apis.ErrSubnetNotFound)).To(BeTrue())
				Expect(client.calls).To(BeEmpty())
			})
		})

		Context("when the API call fails", func() {
			It("should map throttling to ErrProviderUnavailable", func() {
				client.err = &smithy.GenericAPIError{
					Code:    "RequestLimitExceeded",
					Message: "Request limit exceeded",
				}

				provider := NewSubnetProviderWithClient(client, 0)
				_, err := provider.Describe(ctx, "subnet-0a1b2c")

				Expect(errors.Is(err, apis.ErrProviderUnavailable)).To(BeTrue())
			})

			It("should map network errors to ErrProviderUnavailable", func() {
				client.err = fmt.Errorf("dial tcp: i/o timeout")

				provider := NewSubnetProviderWithClient(client, 0)
				_, err := provider.Describe(ctx, "subnet-0a1b2c")

				Expect(errors.Is(err, apis.ErrProviderUnavailable)).To(BeTrue())
			})

			It("should surface an unparseable CIDR as ErrProviderUnavailable", func() {
				client.output = subnetOutput("subnet-0a1b2c", "not-a-cidr", 10)

				provider := NewSubnetProviderWithClient(client, 0)
				_, err := provider.Describe(ctx, "subnet-0a1b2c")

				Expect(errors.Is(err, apis.ErrProviderUnavailable)).To(BeTrue())
			})
		})
	})

	Describe("usableAddresses", func() {
		It("should subtract the AWS-reserved addresses", func() {
			total, err := usableAddresses("10.0.0.0/24")
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(int64(251)))
		})

		It("should floor tiny blocks at zero", func() {
			total, err := usableAddresses("10.0.0.0/31")
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(BeZero())
		})

		It("should reject malformed blocks", func() {
			_, err := usableAddresses("10.0.0.0")
			Expect(err).To(HaveOccurred())
		})
	})
})
