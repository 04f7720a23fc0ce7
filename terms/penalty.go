// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package terms

import (
	"fmt"
	"math"

	"github.com/curioloop/scp/convex"
	"github.com/curioloop/scp/scp"
	"gonum.org/v1/gonum/floats"
)

// Penalty turns a vector of residuals into a scalar cost.
type Penalty int

const (
	// Squared ∑ 𝐫ᵢ²
	Squared Penalty = iota
	// Abs ∑ |𝐫ᵢ|
	Abs
	// Hinge ∑ max(0, 𝐫ᵢ)
	Hinge
	// Norm ‖𝐫‖₂
	Norm
)

var penaltyNames = [...]string{
	Squared: "squared",
	Abs:     "abs",
	Hinge:   "hinge",
	Norm:    "norm",
}

func (p Penalty) String() string {
	if p < 0 || int(p) >= len(penaltyNames) {
		return fmt.Sprintf("Penalty(%d)", int(p))
	}
	return penaltyNames[p]
}

// ParsePenalty parses the name of a penalty.
func ParsePenalty(s string) (Penalty, error) {
	for p, name := range penaltyNames {
		if name == s {
			return Penalty(p), nil
		}
	}
	return 0, fmt.Errorf("terms: unknown penalty %q", s)
}

func (p *Penalty) UnmarshalText(text []byte) (err error) {
	*p, err = ParsePenalty(string(text))
	return
}

func (p Penalty) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// apply returns the penalty of residuals r.
func (p Penalty) apply(r []float64) float64 {
	switch p {
	case Squared:
		return floats.Dot(r, r)
	case Abs:
		return floats.Norm(r, 1)
	case Hinge:
		s := 0.0
		for _, v := range r {
			s += math.Max(0, v)
		}
		return s
	case Norm:
		return floats.Norm(r, 2)
	}
	panic("terms: unknown penalty")
}

// model adds c·penalty(es) to the objective of f.
func (p Penalty) model(f *scp.Fragment, c float64, es []convex.AffExpr, tag string) {
	switch p {
	case Squared:
		for _, e := range es {
			f.AddObjective(convex.Square(e).Scale(c))
		}
	case Abs:
		for i, e := range es {
			f.AddAbsCost(c, e, fmt.Sprintf("%s%d", tag, i))
		}
	case Hinge:
		for i, e := range es {
			f.AddHingeCost(c, e, fmt.Sprintf("%s%d", tag, i))
		}
	case Norm:
		f.AddNormCost(c, es, tag)
	default:
		panic("terms: unknown penalty")
	}
}
