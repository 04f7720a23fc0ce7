// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package terms provides cost and constraint terms for the scp optimizer.
//
// Terms over affine expressions are convex already and convexify to exact reformulations.
// Terms over arbitrary functions are linearized with finite differences at every iterate.
package terms

import (
	"fmt"
	"strings"

	"github.com/curioloop/scp/convex"
	"github.com/curioloop/scp/scp"
)

// Affine is an affine function 𝐜 + ∑ 𝐚ᵢ𝐱ᵢ of problem variables.
type Affine struct {
	Constant float64
	Coeffs   []float64
	Vars     []*scp.Variable
}

// NewAffine returns c + ∑ coeffs[i]·vars[i].
func NewAffine(c float64, coeffs []float64, vars []*scp.Variable) (Affine, error) {
	if len(coeffs) != len(vars) {
		return Affine{}, fmt.Errorf("terms: %d coefficients for %d variables", len(coeffs), len(vars))
	}
	return Affine{Constant: c, Coeffs: coeffs, Vars: vars}, nil
}

// Value evaluates a at point x.
func (a Affine) Value(x []float64) float64 {
	s := a.Constant
	for i, v := range a.Vars {
		s += a.Coeffs[i] * v.At(x)
	}
	return s
}

// Expr returns a as a solver expression.
func (a Affine) Expr() convex.AffExpr {
	e := convex.Const(a.Constant)
	for i, v := range a.Vars {
		e.AddTerm(a.Coeffs[i], v.Handle())
	}
	return e
}

func (a Affine) String() string {
	var sb strings.Builder
	for i, v := range a.Vars {
		fmt.Fprintf(&sb, "%g*%s + ", a.Coeffs[i], v.Name())
	}
	fmt.Fprintf(&sb, "%g", a.Constant)
	return sb.String()
}
