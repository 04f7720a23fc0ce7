// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import "errors"

var (
	// ErrFragmentRegistered is returned when registering a fragment that is already registered.
	ErrFragmentRegistered = errors.New("scp: fragment already registered")
	// ErrFragmentNotRegistered is returned when unregistering a fragment that is not registered.
	ErrFragmentNotRegistered = errors.New("scp: fragment not registered")
	// ErrFragmentLeaked is returned when closing a fragment that still holds solver resources.
	ErrFragmentLeaked = errors.New("scp: fragment closed while registered")
	// ErrFragmentClosed is returned when registering a closed fragment.
	ErrFragmentClosed = errors.New("scp: fragment already closed")

	ErrTrustRegionOrder = errors.New("scp: trust region must be set before any constraint")
	ErrNoTrustRegion    = errors.New("scp: trust region not set")
	ErrNoVariables      = errors.New("scp: no variables")
	ErrInvalidConfig    = errors.New("scp: invalid config")
	ErrNoFragment       = errors.New("scp: term returned no fragment")
)
