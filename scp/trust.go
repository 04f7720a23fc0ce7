// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"errors"
	"math"
	"slices"

	"github.com/curioloop/scp/convex"
)

// BoxTrustRegion keeps every variable within |𝐱ᵢ - 𝐱̂ᵢ| ≤ 𝐫ᵢ·𝛕
// where 𝐱̂ is the point the region was convexified at, 𝐫 the radii and 𝛕 the shrink factor.
type BoxTrustRegion struct {
	vars   []*Variable
	radii  []float64
	factor float64

	center []float64
	bounds []convex.AffExpr
}

// NewBoxTrustRegion creates a trust region over vars.
// A single radius applies to every variable, otherwise one radius per variable is required.
func NewBoxTrustRegion(vars []*Variable, radii ...float64) (*BoxTrustRegion, error) {
	switch {
	case len(vars) == 0:
		return nil, errors.New("scp: trust region needs variables")
	case len(radii) == 1:
		radii = slices.Repeat(radii, len(vars))
	case len(radii) != len(vars):
		return nil, errors.New("scp: trust region radii must match variables")
	}
	for _, r := range radii {
		if !(r > 0) || math.IsInf(r, 0) {
			return nil, errors.New("scp: trust region radius must be positive and finite")
		}
	}
	return &BoxTrustRegion{
		vars:   slices.Clone(vars),
		radii:  slices.Clone(radii),
		factor: 1,
	}, nil
}

func (tr *BoxTrustRegion) Name() string { return "trust_region" }

func (tr *BoxTrustRegion) Factor() float64 { return tr.factor }

func (tr *BoxTrustRegion) Reset() {
	tr.factor = 1
	tr.bounds = nil
}

func (tr *BoxTrustRegion) Adjust(multiplier float64) {
	tr.factor *= multiplier
	tr.bounds = nil
}

// Radius returns the current half width of the box along the i-th variable.
func (tr *BoxTrustRegion) Radius(i int) float64 {
	return tr.radii[i] * tr.factor
}

// Violation returns how far x lies outside the box around the last center.
func (tr *BoxTrustRegion) Violation(x []float64) float64 {
	if tr.center == nil {
		return 0
	}
	vio := 0.0
	for i, v := range tr.vars {
		vio = math.Max(vio, math.Abs(v.At(x)-tr.center[i])-tr.Radius(i))
	}
	return vio
}

func (tr *BoxTrustRegion) rebuild(x []float64) {
	tr.center = make([]float64, len(tr.vars))
	tr.bounds = tr.bounds[:0]
	for i, v := range tr.vars {
		c, r := v.At(x), tr.Radius(i)
		tr.center[i] = c
		// 𝐱ᵢ - 𝐱̂ᵢ - 𝐫ᵢ ≤ 0 and 𝐱̂ᵢ - 𝐱ᵢ - 𝐫ᵢ ≤ 0
		tr.bounds = append(tr.bounds,
			convex.Linear(1, v.handle).Plus(convex.Const(-c-r)),
			convex.Linear(-1, v.handle).Plus(convex.Const(c-r)),
		)
	}
}

func (tr *BoxTrustRegion) stale(x []float64) bool {
	if tr.bounds == nil {
		return true
	}
	for i, v := range tr.vars {
		if v.At(x) != tr.center[i] {
			return true
		}
	}
	return false
}

// Convexify returns the box around x, reusing the previous bounds when neither x nor the factor changed.
func (tr *BoxTrustRegion) Convexify(x []float64) (*Fragment, error) {
	if tr.stale(x) {
		tr.rebuild(x)
	}
	f := NewFragment(tr.Name())
	for i, v := range tr.vars {
		f.AddIneq(tr.bounds[2*i], v.Name()+"/upper")
		f.AddIneq(tr.bounds[2*i+1], v.Name()+"/lower")
	}
	return f, nil
}
