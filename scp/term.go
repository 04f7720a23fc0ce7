// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

// Cost is a term of the objective.
//
// Value must be deterministic for a given point.
// Convexify returns a fresh fragment whose objective approximates the cost near x;
// a cost that is already convex returns an exact reformulation.
// Neither method may modify x.
type Cost interface {
	Name() string
	Value(x []float64) float64
	Convexify(x []float64) (*Fragment, error)
}

// Constraint is a hard constraint of the problem.
// Violation is only used for reporting, the convexified fragment is what the solver enforces.
type Constraint interface {
	Name() string
	Violation(x []float64) float64
	Convexify(x []float64) (*Fragment, error)
}

// TrustRegion bounds how far a candidate point may move from the current iterate.
type TrustRegion interface {
	Constraint
	// Reset restores the shrink factor to 1.
	Reset()
	// Adjust multiplies the shrink factor and forces the next Convexify to rebuild the region.
	Adjust(multiplier float64)
	Factor() float64
}

// PostUpdater is implemented by terms that need to observe every committed point.
type PostUpdater interface {
	PostUpdate(x []float64)
}
