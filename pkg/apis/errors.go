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

package apis

import (
	"errors"
	"fmt"
)

// Sentinel errors for classifying failures with errors.Is. Callers branch on
// these; the concrete error types below carry the per-failure context.
var (
	// ErrSubnetNotFound indicates the subnet does not exist in AWS
	ErrSubnetNotFound = errors.New("subnet not found")

	// ErrProviderUnavailable indicates the subnet lookup failed for reasons
	// other than the subnet missing: throttling, auth, network, timeout
	ErrProviderUnavailable = errors.New("subnet provider unavailable")

	// ErrMalformedRequest indicates the admission payload could not be
	// decoded into the expected NodeClaim shape
	ErrMalformedRequest = errors.New("malformed admission request")

	// ErrNoSubnet indicates a subnet source was present on the claim but
	// resolved to no usable subnet identifiers
	ErrNoSubnet = errors.New("no subnet could be resolved")
)

// ProviderError wraps a failure from the cloud subnet lookup with the subnet
// that was being described. It matches ErrSubnetNotFound or
// ErrProviderUnavailable through errors.Is.
type ProviderError struct {
	SubnetID string
	kind     error
	cause    error
}

// NewSubnetNotFoundError returns a ProviderError matching ErrSubnetNotFound.
func NewSubnetNotFoundError(subnetID string, cause error) *ProviderError {
	return &ProviderError{SubnetID: subnetID, kind: ErrSubnetNotFound, cause: cause}
}

// NewProviderUnavailableError returns a ProviderError matching
// ErrProviderUnavailable.
func NewProviderUnavailableError(subnetID string, cause error) *ProviderError {
	return &ProviderError{SubnetID: subnetID, kind: ErrProviderUnavailable, cause: cause}
}

func (e *ProviderError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("subnet %s: %v: %v", e.SubnetID, e.kind, e.cause)
	}
	return fmt.Sprintf("subnet %s: %v", e.SubnetID, e.kind)
}

func (e *ProviderError) Is(target error) bool { return target == e.kind }

func (e *ProviderError) Unwrap() error { return e.cause }

// ParseError wraps a failure to interpret an admission request. It matches
// ErrMalformedRequest or ErrNoSubnet through errors.Is.
type ParseError struct {
	kind  error
	cause error
}

// NewMalformedRequestError returns a ParseError matching ErrMalformedRequest.
func NewMalformedRequestError(cause error) *ParseError {
	return &ParseError{kind: ErrMalformedRequest, cause: cause}
}

// NewNoSubnetError returns a ParseError matching ErrNoSubnet.
func NewNoSubnetError(cause error) *ParseError {
	return &ParseError{kind: ErrNoSubnet, cause: cause}
}

func (e *ParseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%v: %v", e.kind, e.cause)
	}
	return e.kind.Error()
}

func (e *ParseError) Is(target error) bool { return target == e.kind }

func (e *ParseError) Unwrap() error { return e.cause }
