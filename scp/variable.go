// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import "github.com/curioloop/scp/convex"

// Variable is a decision variable of the non-convex problem.
// It carries the live value of the working point and a backup used to roll back rejected steps.
type Variable struct {
	handle convex.Var
	index  int
	value  float64
	backup float64
}

// Handle returns the solver variable to use in convex expressions.
func (v *Variable) Handle() convex.Var { return v.handle }

// Index returns the position of v in the points handed to terms.
func (v *Variable) Index() int { return v.index }

func (v *Variable) Name() string { return v.handle.Name() }

func (v *Variable) Value() float64 { return v.value }

// At returns the value of v in point x.
func (v *Variable) At(x []float64) float64 { return x[v.index] }

func (v *Variable) set(x float64) {
	v.value = x
	v.handle.SetStart(x)
}

// Handles returns the solver variables of vars.
func Handles(vars []*Variable) []convex.Var {
	h := make([]convex.Var, len(vars))
	for i, v := range vars {
		h[i] = v.handle
	}
	return h
}
