// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"math"
	"strconv"

	"github.com/curioloop/scp/convex"
)

// Non-smooth costs are modelled with slack variables:
//
//	𝚊𝚋𝚜   c·|𝐞|     → minimize c·𝐬  s.t. 𝐬 ≥ 0, 𝐞 - 𝐬 ≤ 0, -𝐞 - 𝐬 ≤ 0
//	𝚑𝚒𝚗𝚐𝚎 c·max(0,𝐞) → minimize c·𝐬  s.t. 𝐬 ≥ 0, 𝐞 - 𝐬 ≤ 0
//	𝚗𝚘𝚛𝚖  c·‖𝐞‖₂     → minimize c·𝐬  s.t. 𝐬 ≥ 0, 𝐲ᵢ = 𝐞ᵢ, ∑𝐲ᵢ² - 𝐬² ≤ 0
//
// With c > 0 the optimal slack equals the penalized quantity.
// Slacks start at the value their expression takes at the start of the model variables.

var inf = math.Inf(1)

func startOf(v convex.Var) float64 { return v.Start() }

// AddAbsCost adds c·|e| to the objective of f and returns the slack.
func (f *Fragment) AddAbsCost(c float64, e convex.AffExpr, tag string) convex.Var {
	s := f.NewVar(tag+"/abs", 0, inf)
	s.SetStart(math.Abs(e.Eval(startOf)))
	slack := convex.Linear(1, s)
	f.AddIneq(e.Minus(slack), tag+"/pos")
	f.AddIneq(e.Scale(-1).Minus(slack), tag+"/neg")
	f.AddObjective(convex.Quad(convex.Linear(c, s)))
	return s
}

// AddHingeCost adds c·max(0, e) to the objective of f and returns the slack.
func (f *Fragment) AddHingeCost(c float64, e convex.AffExpr, tag string) convex.Var {
	s := f.NewVar(tag+"/hinge", 0, inf)
	s.SetStart(math.Max(0, e.Eval(startOf)))
	f.AddIneq(e.Minus(convex.Linear(1, s)), tag+"/pos")
	f.AddObjective(convex.Quad(convex.Linear(c, s)))
	return s
}

// AddNormCost adds c·‖(e₀ ··· eₖ)‖₂ to the objective of f and returns the slack.
func (f *Fragment) AddNormCost(c float64, es []convex.AffExpr, tag string) convex.Var {
	var cone convex.QuadExpr
	sq := 0.0
	for i, e := range es {
		y := f.NewVar(tag+"/"+strconv.Itoa(i), math.Inf(-1), inf)
		v := e.Eval(startOf)
		y.SetStart(v)
		sq += v * v
		f.AddEq(e.Minus(convex.Linear(1, y)), tag+"/eq"+strconv.Itoa(i))
		cone.AddQuad(1, y, y)
	}
	s := f.NewVar(tag+"/norm", 0, inf)
	s.SetStart(math.Sqrt(sq))
	cone.AddQuad(-1, s, s)
	f.AddQuadIneq(cone, tag+"/cone")
	f.AddObjective(convex.Quad(convex.Linear(c, s)))
	return s
}
