// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package convex

import (
	"fmt"
	"math"
	"strings"
)

// Var is a handle of a scalar decision variable.
// A Var is created detached and becomes a column of a model once it is added with Model.AddVar,
// so that an expression can reference a variable before the variable is registered anywhere.
type Var struct {
	rec *varRec
}

type varRec struct {
	name         string
	lower, upper float64
	start        float64
}

// NewVar creates a detached variable with bounds 𝒍 ≤ 𝐱 ≤ 𝒖.
// Infinite (or NaN) bounds mean the side is unbounded.
func NewVar(name string, lower, upper float64) Var {
	if math.IsNaN(lower) {
		lower = math.Inf(-1)
	}
	if math.IsNaN(upper) {
		upper = math.Inf(1)
	}
	return Var{&varRec{name: name, lower: lower, upper: upper}}
}

// Valid reports whether v was created by NewVar.
func (v Var) Valid() bool { return v.rec != nil }

func (v Var) Name() string { return v.rec.name }

func (v Var) Lower() float64 { return v.rec.lower }

func (v Var) Upper() float64 { return v.rec.upper }

// Start returns the initial guess handed to the solver, clipped into bounds.
func (v Var) Start() float64 {
	return math.Min(math.Max(v.rec.start, v.rec.lower), v.rec.upper)
}

// SetStart sets the initial guess handed to the solver.
func (v Var) SetStart(x float64) { v.rec.start = x }

func (v Var) String() string {
	if v.rec == nil {
		return "<nil>"
	}
	return v.rec.name
}

// AffExpr is an affine expression 𝐜 + ∑ 𝐚ᵢ𝐱ᵢ.
type AffExpr struct {
	Constant float64
	Coeffs   []float64
	Vars     []Var
}

// Const returns the constant expression c.
func Const(c float64) AffExpr {
	return AffExpr{Constant: c}
}

// Linear returns the expression c·v.
func Linear(c float64, v Var) AffExpr {
	return AffExpr{Coeffs: []float64{c}, Vars: []Var{v}}
}

// Sum returns ∑ vᵢ with unit coefficients.
func Sum(vars ...Var) AffExpr {
	e := AffExpr{Coeffs: make([]float64, len(vars)), Vars: make([]Var, len(vars))}
	for i, v := range vars {
		e.Coeffs[i], e.Vars[i] = 1, v
	}
	return e
}

// AddTerm appends c·v in place.
func (e *AffExpr) AddTerm(c float64, v Var) {
	e.Coeffs = append(e.Coeffs, c)
	e.Vars = append(e.Vars, v)
}

// Clone returns a deep copy that shares no storage with e.
func (e AffExpr) Clone() AffExpr {
	return AffExpr{
		Constant: e.Constant,
		Coeffs:   append([]float64(nil), e.Coeffs...),
		Vars:     append([]Var(nil), e.Vars...),
	}
}

// Plus returns e + o.
func (e AffExpr) Plus(o AffExpr) AffExpr {
	r := e.Clone()
	r.Constant += o.Constant
	r.Coeffs = append(r.Coeffs, o.Coeffs...)
	r.Vars = append(r.Vars, o.Vars...)
	return r
}

// Minus returns e - o.
func (e AffExpr) Minus(o AffExpr) AffExpr {
	return e.Plus(o.Scale(-1))
}

// Scale returns c·e.
func (e AffExpr) Scale(c float64) AffExpr {
	r := e.Clone()
	r.Constant *= c
	for i := range r.Coeffs {
		r.Coeffs[i] *= c
	}
	return r
}

// Eval evaluates e with variable values given by value.
func (e AffExpr) Eval(value func(Var) float64) float64 {
	s := e.Constant
	for i, v := range e.Vars {
		s += e.Coeffs[i] * value(v)
	}
	return s
}

func (e AffExpr) String() string {
	var sb strings.Builder
	for i, v := range e.Vars {
		if i > 0 {
			sb.WriteString(" + ")
		}
		fmt.Fprintf(&sb, "%g*%s", e.Coeffs[i], v)
	}
	if len(e.Vars) == 0 || e.Constant != 0 {
		if len(e.Vars) > 0 {
			sb.WriteString(" + ")
		}
		fmt.Fprintf(&sb, "%g", e.Constant)
	}
	return sb.String()
}

// QuadExpr is a quadratic expression 𝐚(𝐱) + ∑ 𝐪ₖ𝐱ᵢ𝐱ⱼ where 𝐚 is affine.
type QuadExpr struct {
	Affine AffExpr
	Coeffs []float64
	Vars1  []Var
	Vars2  []Var
}

// Quad wraps an affine expression.
func Quad(e AffExpr) QuadExpr {
	return QuadExpr{Affine: e.Clone()}
}

// Square returns e².
func Square(e AffExpr) QuadExpr {
	q := QuadExpr{Affine: Const(e.Constant * e.Constant)}
	for i, v := range e.Vars {
		q.Affine.AddTerm(2*e.Constant*e.Coeffs[i], v)
		for j, w := range e.Vars {
			q.AddQuad(e.Coeffs[i]*e.Coeffs[j], v, w)
		}
	}
	return q
}

// AddQuad appends c·v₁·v₂ in place.
func (q *QuadExpr) AddQuad(c float64, v1, v2 Var) {
	q.Coeffs = append(q.Coeffs, c)
	q.Vars1 = append(q.Vars1, v1)
	q.Vars2 = append(q.Vars2, v2)
}

// Clone returns a deep copy that shares no storage with q.
func (q QuadExpr) Clone() QuadExpr {
	return QuadExpr{
		Affine: q.Affine.Clone(),
		Coeffs: append([]float64(nil), q.Coeffs...),
		Vars1:  append([]Var(nil), q.Vars1...),
		Vars2:  append([]Var(nil), q.Vars2...),
	}
}

// Plus returns q + o.
func (q QuadExpr) Plus(o QuadExpr) QuadExpr {
	r := q.Clone()
	r.Affine = r.Affine.Plus(o.Affine)
	r.Coeffs = append(r.Coeffs, o.Coeffs...)
	r.Vars1 = append(r.Vars1, o.Vars1...)
	r.Vars2 = append(r.Vars2, o.Vars2...)
	return r
}

// PlusAff returns q + e.
func (q QuadExpr) PlusAff(e AffExpr) QuadExpr {
	r := q.Clone()
	r.Affine = r.Affine.Plus(e)
	return r
}

// Scale returns c·q.
func (q QuadExpr) Scale(c float64) QuadExpr {
	r := q.Clone()
	r.Affine = r.Affine.Scale(c)
	for i := range r.Coeffs {
		r.Coeffs[i] *= c
	}
	return r
}

// Eval evaluates q with variable values given by value.
func (q QuadExpr) Eval(value func(Var) float64) float64 {
	s := q.Affine.Eval(value)
	for k, c := range q.Coeffs {
		s += c * value(q.Vars1[k]) * value(q.Vars2[k])
	}
	return s
}

func (q QuadExpr) String() string {
	var sb strings.Builder
	for k, c := range q.Coeffs {
		fmt.Fprintf(&sb, "%g*%s*%s + ", c, q.Vars1[k], q.Vars2[k])
	}
	sb.WriteString(q.Affine.String())
	return sb.String()
}
