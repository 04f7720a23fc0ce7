// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package convex

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/scp/slsqp"
)

// Settings configures the SLSQP backend.
// It is the solver environment of a process: build it once and pass it to every model.
type Settings struct {
	// The norm accuracy that determines the final solution.
	Accuracy float64 `yaml:"accuracy" toml:"accuracy"`
	// The maximum number of SQP iterations per solve.
	MaxIterations int `yaml:"max_iterations" toml:"max_iterations"`
	// The maximum number of iterations in the NNLS problem, zero selects the default.
	NNLSIterations int `yaml:"nnls_iterations" toml:"nnls_iterations"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Accuracy:      1e-8,
		MaxIterations: 200,
	}
}

// Validate checks the settings.
func (s Settings) Validate() (err error) {
	switch {
	case !(s.Accuracy > 0):
		err = errors.New("convex: accuracy must greater than 0")
	case s.MaxIterations <= 0:
		err = errors.New("convex: max iterations must greater than 0")
	case s.NNLSIterations < 0:
		err = errors.New("convex: nnls iterations must not less than 0")
	}
	return
}

// SQPModel is a Model solved by the dense SLSQP method.
// Every affine and quadratic expression is handed to SLSQP with its exact gradient,
// so convex programs are solved to the configured accuracy.
type SQPModel struct {
	settings  Settings
	vars      []Var
	cnts      []Cnt
	objective QuadExpr

	status Status
	detail string
	fval   float64
	values map[*varRec]float64
	iters  int
}

// NewSQPModel creates an empty model.
func NewSQPModel(settings Settings) (*SQPModel, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &SQPModel{settings: settings, status: Unsolved}, nil
}

func (m *SQPModel) indexVar(v Var) int {
	for i, w := range m.vars {
		if w.rec == v.rec {
			return i
		}
	}
	return -1
}

func (m *SQPModel) indexCnt(c Cnt) int {
	for i, d := range m.cnts {
		if d.rec == c.rec {
			return i
		}
	}
	return -1
}

func (m *SQPModel) AddVar(v Var) error {
	switch {
	case !v.Valid():
		return ErrNilVar
	case v.Lower() > v.Upper():
		return fmt.Errorf("%w: %s", ErrInvalidBound, v.Name())
	case m.indexVar(v) >= 0:
		return fmt.Errorf("%w: %s", ErrVarExists, v.Name())
	}
	m.vars = append(m.vars, v)
	return nil
}

func (m *SQPModel) RemoveVar(v Var) error {
	i := m.indexVar(v)
	if !v.Valid() || i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownVar, v)
	}
	m.vars = slices.Delete(m.vars, i, i+1)
	return nil
}

func (m *SQPModel) addCnt(name string, kind CntKind, q QuadExpr) (Cnt, error) {
	c := newCnt(name, kind, q)
	m.cnts = append(m.cnts, c)
	return c, nil
}

func (m *SQPModel) AddIneq(e AffExpr, name string) (Cnt, error) {
	return m.addCnt(name, Ineq, Quad(e))
}

func (m *SQPModel) AddEq(e AffExpr, name string) (Cnt, error) {
	return m.addCnt(name, Eq, Quad(e))
}

func (m *SQPModel) AddQuadIneq(q QuadExpr, name string) (Cnt, error) {
	return m.addCnt(name, QuadIneq, q.Clone())
}

func (m *SQPModel) RemoveCnt(c Cnt) error {
	i := m.indexCnt(c)
	if !c.Valid() || i < 0 {
		return ErrUnknownCnt
	}
	m.cnts = slices.Delete(m.cnts, i, i+1)
	return nil
}

func (m *SQPModel) SetObjective(q QuadExpr) {
	m.objective = q.Clone()
}

// NumVars returns the number of variables in the model.
func (m *SQPModel) NumVars() int { return len(m.vars) }

// NumCnts returns the number of constraints in the model.
func (m *SQPModel) NumCnts() int { return len(m.cnts) }

// Iterations returns the number of SQP iterations of the last solve.
func (m *SQPModel) Iterations() int { return m.iters }

// compiled is a quadratic expression over column indices.
type compiled struct {
	c      float64
	ai     []int
	av     []float64
	qi, qj []int
	qv     []float64
}

func (m *SQPModel) compile(q QuadExpr, cols map[*varRec]int) (cp compiled, err error) {
	col := func(v Var) int {
		if !v.Valid() {
			err = ErrNilVar
			return 0
		}
		j, ok := cols[v.rec]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownVar, v.Name())
		}
		return j
	}
	cp.c = q.Affine.Constant
	for k, v := range q.Affine.Vars {
		cp.ai = append(cp.ai, col(v))
		cp.av = append(cp.av, q.Affine.Coeffs[k])
	}
	for k, c := range q.Coeffs {
		cp.qi = append(cp.qi, col(q.Vars1[k]))
		cp.qj = append(cp.qj, col(q.Vars2[k]))
		cp.qv = append(cp.qv, c)
	}
	return
}

func (cp *compiled) value(x []float64) float64 {
	f := cp.c
	for k, i := range cp.ai {
		f += cp.av[k] * x[i]
	}
	for k, i := range cp.qi {
		f += cp.qv[k] * x[i] * x[cp.qj[k]]
	}
	return f
}

func (cp *compiled) derivative(x, d []float64) {
	for i := range d {
		d[i] = 0
	}
	for k, i := range cp.ai {
		d[i] += cp.av[k]
	}
	for k, i := range cp.qi {
		j, c := cp.qj[k], cp.qv[k]
		d[i] += c * x[j]
		d[j] += c * x[i]
	}
}

// evaluation returns s·𝒇(𝐱) so that 𝒈(𝐱) ≤ 0 becomes the SLSQP form -𝒈(𝐱) ≥ 0.
func (cp *compiled) evaluation(s float64) slsqp.Evaluation {
	return slsqp.Evaluation{
		Function: func(x []float64) float64 {
			return s * cp.value(x)
		},
		Derivative: func(x []float64, d []float64) {
			cp.derivative(x, d)
			if s != 1 {
				for i := range d {
					d[i] *= s
				}
			}
		},
	}
}

func (m *SQPModel) fail(status Status, detail string) Status {
	m.status, m.detail = status, detail
	m.values = nil
	m.fval = math.NaN()
	return status
}

// Solve runs SLSQP from the variable start values.
func (m *SQPModel) Solve() Status {
	n := len(m.vars)
	if n == 0 {
		return m.fail(InvalidModel, "model has no variables")
	}

	cols := make(map[*varRec]int, n)
	bounds := make([]slsqp.Bound, n)
	x0 := make([]float64, n)
	for i, v := range m.vars {
		cols[v.rec] = i
		bounds[i] = slsqp.Bound{Lower: v.Lower(), Upper: v.Upper()}
		x0[i] = v.Start()
	}

	obj, err := m.compile(m.objective, cols)
	if err != nil {
		return m.fail(InvalidModel, err.Error())
	}

	var eqCons, neqCons []slsqp.Evaluation
	for _, c := range m.cnts {
		cp, err := m.compile(c.rec.expr, cols)
		if err != nil {
			return m.fail(InvalidModel, fmt.Sprintf("constraint %s: %v", c.rec.name, err))
		}
		if c.rec.kind == Eq {
			eqCons = append(eqCons, cp.evaluation(1))
		} else {
			neqCons = append(neqCons, cp.evaluation(-1))
		}
	}

	p := slsqp.Problem{
		N: n,
		Stop: slsqp.Termination{
			Accuracy:       m.settings.Accuracy,
			MaxIterations:  m.settings.MaxIterations,
			NNLSIterations: m.settings.NNLSIterations,
		},
		Object:  obj.evaluation(1),
		EqCons:  eqCons,
		NeqCons: neqCons,
		Bounds:  bounds,
	}

	opt, err := p.New()
	if err != nil {
		return m.fail(InvalidModel, err.Error())
	}
	res := opt.Fit(x0, opt.Init())
	m.iters = res.NumIter

	switch res.Status {
	case slsqp.OK:
	case slsqp.SQPExceedMaxIter:
		return m.fail(IterationLimit, res.Status.String())
	case slsqp.ConsIncompatible:
		return m.fail(Infeasible, res.Status.String())
	case slsqp.BadArgument:
		return m.fail(InvalidModel, res.Status.String())
	default:
		return m.fail(NumericFailure, res.Status.String())
	}

	m.values = make(map[*varRec]float64, n)
	for i, v := range m.vars {
		m.values[v.rec] = res.X[i]
	}
	m.fval = obj.value(res.X)
	m.status, m.detail = Optimal, ""
	return Optimal
}

func (m *SQPModel) ObjectiveValue() float64 {
	return m.fval
}

// Value returns the solution value of v, or NaN when v was not part of the last optimal solve.
func (m *SQPModel) Value(v Var) float64 {
	if !v.Valid() {
		return math.NaN()
	}
	x, ok := m.values[v.rec]
	if !ok {
		return math.NaN()
	}
	return x
}

func (m *SQPModel) Snapshot() Snapshot {
	s := Snapshot{
		Status:    m.status.String(),
		Detail:    m.detail,
		Objective: m.objective.String(),
	}
	for _, v := range m.vars {
		s.Variables = append(s.Variables, VarSnapshot{
			Name:  v.Name(),
			Lower: v.Lower(),
			Upper: v.Upper(),
			Start: v.Start(),
		})
	}
	for _, c := range m.cnts {
		s.Constraints = append(s.Constraints, CntSnapshot{
			Name: c.rec.name,
			Kind: c.rec.kind.String(),
			Expr: c.rec.expr.String(),
		})
	}
	return s
}
