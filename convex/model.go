// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package convex describes the convex solver capability consumed by the SCP driver:
// variables, affine and quadratic expressions, and a model that accepts
// linear (in)equalities and convex quadratic inequalities under a quadratic objective.
package convex

// Model is a convex program under construction.
//
//	minimize 𝒇(𝐱) subject to
//	  - 𝒈ⱼ(𝐱) ≤ 0  (affine)
//	  - 𝒉ⱼ(𝐱) = 0  (affine)
//	  - 𝒒ⱼ(𝐱) ≤ 0  (quadratic)
//	  - 𝒍ᵢ ≤ 𝐱ᵢ ≤ 𝒖ᵢ
//
// A Model is not safe for concurrent use.
type Model interface {
	AddVar(v Var) error
	RemoveVar(v Var) error
	AddIneq(e AffExpr, name string) (Cnt, error)
	AddEq(e AffExpr, name string) (Cnt, error)
	AddQuadIneq(q QuadExpr, name string) (Cnt, error)
	RemoveCnt(c Cnt) error
	SetObjective(q QuadExpr)
	// Solve blocks until the solver terminates.
	Solve() Status
	// ObjectiveValue and Value report the last solution and are meaningful only after Solve returned Optimal.
	ObjectiveValue() float64
	Value(v Var) float64
	// Snapshot describes the current program for offline inspection.
	Snapshot() Snapshot
}

// CntKind classifies a constraint.
type CntKind int

const (
	Ineq CntKind = iota
	Eq
	QuadIneq
)

func (k CntKind) String() string {
	switch k {
	case Ineq:
		return "ineq"
	case Eq:
		return "eq"
	case QuadIneq:
		return "quad_ineq"
	}
	return "unknown"
}

// Cnt is a handle of a constraint added to a model.
type Cnt struct {
	rec *cntRec
}

type cntRec struct {
	name string
	kind CntKind
	expr QuadExpr
}

func newCnt(name string, kind CntKind, expr QuadExpr) Cnt {
	return Cnt{&cntRec{name: name, kind: kind, expr: expr}}
}

// Valid reports whether c refers to a constraint.
func (c Cnt) Valid() bool { return c.rec != nil }

func (c Cnt) Name() string { return c.rec.name }

func (c Cnt) Kind() CntKind { return c.rec.kind }

// Expr returns the constrained expression, affine constraints have no quadratic part.
func (c Cnt) Expr() QuadExpr { return c.rec.expr }

// Status reports how a solve terminated.
type Status int

const (
	Optimal Status = iota
	Infeasible
	IterationLimit
	NumericFailure
	InvalidModel
	Unsolved
)

var statusStrings = map[Status]string{
	Optimal:        "Optimal",
	Infeasible:     "Infeasible",
	IterationLimit: "IterationLimit",
	NumericFailure: "NumericFailure",
	InvalidModel:   "InvalidModel",
	Unsolved:       "Unsolved",
}

func (s Status) String() string {
	str, ok := statusStrings[s]
	if !ok {
		return "UnknownStatus"
	}
	return str
}

// Snapshot is a debugging dump of a model. It is not a stable format.
type Snapshot struct {
	Status      string        `yaml:"status" json:"status"`
	Detail      string        `yaml:"detail,omitempty" json:"detail,omitempty"`
	Objective   string        `yaml:"objective" json:"objective"`
	Variables   []VarSnapshot `yaml:"variables" json:"variables"`
	Constraints []CntSnapshot `yaml:"constraints" json:"constraints"`
}

type VarSnapshot struct {
	Name  string  `yaml:"name" json:"name"`
	Lower float64 `yaml:"lower" json:"lower"`
	Upper float64 `yaml:"upper" json:"upper"`
	Start float64 `yaml:"start" json:"start"`
}

type CntSnapshot struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind" json:"kind"`
	Expr string `yaml:"expr" json:"expr"`
}
