// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import "fmt"

// Status is the terminal state of a run.
type Status int

const (
	// Converged the improvement became negligible.
	Converged Status = iota
	// IterationLimit the convex solve budget was exhausted.
	IterationLimit
	// ShrinkageLimit the trust region collapsed without further progress.
	ShrinkageLimit
	// SolverFailed the convex solver did not return an optimal solution.
	SolverFailed
)

var statusStrings = [...]string{
	Converged:      "CONVERGED",
	IterationLimit: "ITERATION_LIMIT",
	ShrinkageLimit: "SHRINKAGE_LIMIT",
	SolverFailed:   "SOLVER_FAILED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusStrings) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusStrings[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of a run.
type Result struct {
	Status Status `yaml:"status"`
	// Number of convex solves.
	Iterations int `yaml:"iterations"`
	// Exact cost at X.
	Cost float64 `yaml:"cost"`
	// Final point, indexed like the variables.
	X []float64 `yaml:"x"`
}
