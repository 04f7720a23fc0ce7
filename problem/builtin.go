// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/scp/terms"
)

// builtin is a named residual function usable from problem files.
type builtin struct {
	vars, outputs int
	// defaults for optional parameters, nil when every parameter is required.
	defaults []float64
	nparams  int
	make     func(p []float64) terms.VectorFunc
}

var builtins = map[string]builtin{
	// (√b·(y - x²), a - x), the residual form of the Rosenbrock function (a - x)² + b(y - x²)².
	"rosenbrock": {
		vars: 2, outputs: 2, nparams: 2,
		defaults: []float64{1, 100},
		make: func(p []float64) terms.VectorFunc {
			a, sb := p[0], math.Sqrt(p[1])
			return func(z, r []float64) {
				r[0] = sb * (z[1] - z[0]*z[0])
				r[1] = a - z[0]
			}
		},
	},
	// (x - cx)² + (y - cy)² - radius²
	"circle": {
		vars: 2, outputs: 1, nparams: 3,
		make: func(p []float64) terms.VectorFunc {
			cx, cy, rr := p[0], p[1], p[2]*p[2]
			return func(z, r []float64) {
				dx, dy := z[0]-cx, z[1]-cy
				r[0] = dx*dx + dy*dy - rr
			}
		},
	},
	// xᵢ² - 1 for every variable
	"unit": {
		vars: -1, outputs: -1,
		make: func([]float64) terms.VectorFunc {
			return func(z, r []float64) {
				for i, v := range z {
					r[i] = v*v - 1
				}
			}
		},
	},
}

// Builtins returns the names of the functions usable in problem files.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// resolve returns the function, and its number of outputs, for a term over nvars variables.
func resolve(name string, params []float64, nvars int) (terms.VectorFunc, int, error) {
	b, ok := builtins[name]
	if !ok {
		return nil, 0, fmt.Errorf("%w %q", ErrUnknownFunc, name)
	}
	if b.vars > 0 && nvars != b.vars {
		return nil, 0, fmt.Errorf("problem: %s takes %d variables, got %d", name, b.vars, nvars)
	}
	p := params
	switch {
	case len(p) == 0 && b.defaults != nil:
		p = b.defaults
	case len(p) != b.nparams:
		return nil, 0, fmt.Errorf("problem: %s takes %d parameters, got %d", name, b.nparams, len(p))
	}
	m := b.outputs
	if m < 0 {
		m = nvars
	}
	return b.make(p), m, nil
}
