// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/curioloop/scp/convex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is the scripted outcome of one Solve.
type step struct {
	status convex.Status
	x      []float64
	approx float64
}

// scriptedModel keeps the bookkeeping of a real model and replays scripted solutions.
type scriptedModel struct {
	*convex.SQPModel
	steps  []step
	solves int
	cur    step
	index  map[string]int
	// constraint additions, removals and solves in call order
	trace []string
}

func (m *scriptedModel) AddIneq(e convex.AffExpr, name string) (convex.Cnt, error) {
	m.trace = append(m.trace, "add "+name)
	return m.SQPModel.AddIneq(e, name)
}

func (m *scriptedModel) RemoveCnt(c convex.Cnt) error {
	m.trace = append(m.trace, "remove "+c.Name())
	return m.SQPModel.RemoveCnt(c)
}

func (m *scriptedModel) Solve() convex.Status {
	m.trace = append(m.trace, "solve")
	if m.solves >= len(m.steps) {
		return convex.NumericFailure
	}
	m.cur = m.steps[m.solves]
	m.solves++
	return m.cur.status
}

func (m *scriptedModel) ObjectiveValue() float64 { return m.cur.approx }

func (m *scriptedModel) Value(v convex.Var) float64 {
	if i, ok := m.index[v.Name()]; ok {
		return m.cur.x[i]
	}
	return 0
}

func ok(approx float64, x ...float64) step {
	return step{status: convex.Optimal, x: x, approx: approx}
}

// funcCost is a cost given by a plain function with an empty convexification.
type funcCost struct {
	name    string
	f       func(x []float64) float64
	err     error
	updates [][]float64
}

func (c *funcCost) Name() string              { return c.name }
func (c *funcCost) Value(x []float64) float64 { return c.f(x) }
func (c *funcCost) Convexify([]float64) (*Fragment, error) {
	if c.err != nil {
		return nil, c.err
	}
	return NewFragment(c.name), nil
}
func (c *funcCost) PostUpdate(x []float64) {
	c.updates = append(c.updates, append([]float64(nil), x...))
}

// slackConstraint owns an auxiliary variable and a constraint on it.
type slackConstraint struct{}

func (slackConstraint) Name() string                { return "slack" }
func (slackConstraint) Violation([]float64) float64 { return 0 }
func (slackConstraint) Convexify([]float64) (*Fragment, error) {
	f := NewFragment("slack")
	s := f.NewVar("s", 0, math.Inf(1))
	f.AddIneq(convex.Linear(1, s).Plus(convex.Const(-1)), "cap")
	return f, nil
}

func square(x []float64) float64 { return x[0] * x[0] }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newScripted(t *testing.T, cfg Config, init float64, opts []Option, steps ...step) (*Optimizer, *scriptedModel) {
	t.Helper()
	base, err := convex.NewSQPModel(convex.DefaultSettings())
	require.NoError(t, err)
	m := &scriptedModel{SQPModel: base, steps: steps, index: map[string]int{"x": 0}}
	o, err := New(m, cfg, append([]Option{WithLogger(quiet())}, opts...)...)
	require.NoError(t, err)
	_, err = o.AddVar("x", math.Inf(-1), math.Inf(1), init)
	require.NoError(t, err)
	tr, err := NewBoxTrustRegion(o.Vars(), 1)
	require.NoError(t, err)
	require.NoError(t, o.SetTrustRegion(tr))
	return o, m
}

// assertReleased checks nothing but the problem variables is left in the model.
func assertReleased(t *testing.T, m *scriptedModel) {
	t.Helper()
	assert.Equal(t, 0, m.NumCnts())
	assert.Equal(t, 1, m.NumVars())
}

func TestOptimizeRollback(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	o, m := newScripted(t, DefaultConfig(), 1, []Option{WithMetrics(metrics), WithLogger(logger)},
		ok(0.5, 2),    // regression: 4 > 1
		ok(0.2, 0.5),  // ratio 0.75/0.8
		ok(0.25, 0.5), // nothing left
	)
	cost := &funcCost{name: "square", f: square}
	o.AddCost(cost)
	o.AddConstraint(slackConstraint{})

	var seen []float64
	o.AddCallback(func(x []float64) { seen = append(seen, x[0]) })

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, []float64{0.5}, res.X)
	assert.Equal(t, 0.25, res.Cost)
	assert.Equal(t, []float64{2, 0.5, 0.5}, seen)
	assert.Len(t, cost.updates, 3)
	assert.InDelta(t, 0.1*1.5, o.TrustRegion().Factor(), 1e-12)
	assertReleased(t, m)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.SolverCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Steps.WithLabelValues(stepRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Steps.WithLabelValues(stepAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Steps.WithLabelValues(stepStalled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("CONVERGED")))

	assert.Contains(t, logs.String(), `"msg":"cost improvement"`)
	assert.Contains(t, logs.String(), `"msg":"step rejected, shrinking trust region"`)
	assert.Contains(t, logs.String(), `"component":"scp"`)
}

func TestOptimizeRejectedStepRebuildsTrustOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIter = 2
	o, m := newScripted(t, cfg, 1, nil,
		ok(0.5, 2),   // rejected
		ok(0.2, 0.5), // accepted
	)
	o.AddCost(&funcCost{name: "square", f: square})
	o.AddConstraint(slackConstraint{})

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, IterationLimit, res.Status)

	// events up to the second solve, which runs against the rebuilt trust region
	var window []string
	solves := 0
	for _, e := range m.trace {
		if e == "solve" {
			if solves++; solves == 2 {
				break
			}
		}
		window = append(window, e)
	}
	require.Equal(t, 2, solves)

	count := func(event string) (n int) {
		for _, e := range window {
			if e == event {
				n++
			}
		}
		return
	}
	assert.Equal(t, 2, count("add trust_region/x/upper"))
	assert.Equal(t, 2, count("add trust_region/x/lower"))
	assert.Equal(t, 1, count("remove trust_region/x/upper"))
	assert.Equal(t, 1, count("remove trust_region/x/lower"))
	assert.Equal(t, 1, count("add slack/cap"))
	assert.Equal(t, 0, count("remove slack/cap"))
	assertReleased(t, m)
}

func TestOptimizeIterationLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIter = 3
	cfg.TrustExpand = 1.2
	o, m := newScripted(t, cfg, 1, nil,
		ok(0.9, 0.9),
		ok(0.8, 0.8),
		ok(0.7, 0.7),
		ok(0.6, 0.6),
	)
	o.AddCost(&funcCost{name: "linear", f: func(x []float64) float64 { return x[0] }})

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, IterationLimit, res.Status)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, m.solves)
	assert.InDelta(t, 0.7, res.X[0], 1e-12)
	assert.InDelta(t, math.Pow(1.2, 3), o.TrustRegion().Factor(), 1e-12)
	assertReleased(t, m)
}

func TestOptimizeShrinkageLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShrinkLimit = 1e-2
	o, m := newScripted(t, cfg, 1, nil,
		ok(0.2, 0.5),
		ok(0.1, 2),
		ok(0.1, 2),
		ok(0.1, 2),
	)
	o.AddCost(&funcCost{name: "square", f: square})

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, ShrinkageLimit, res.Status)
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, []float64{0.5}, res.X)
	assert.Equal(t, []float64{0.5}, o.Values())
	assert.InDelta(t, 1.5*0.1*0.1*0.1, o.TrustRegion().Factor(), 1e-12)
	assertReleased(t, m)
}

func TestOptimizeNegativeApprox(t *testing.T) {
	o, m := newScripted(t, DefaultConfig(), 1, nil,
		ok(1.5, 0.8),
	)
	o.AddCost(&funcCost{name: "square", f: square})

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.Equal(t, []float64{1}, res.X)
	assert.Equal(t, 1.0, o.TrustRegion().Factor())
	assertReleased(t, m)
}

func TestOptimizeStallKeepsImprovement(t *testing.T) {
	// the candidate improves although the model predicts nothing: it is kept
	o, _ := newScripted(t, DefaultConfig(), 1, nil,
		ok(1, 0.9),
	)
	o.AddCost(&funcCost{name: "square", f: square})

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.Equal(t, []float64{0.9}, res.X)
}

func TestOptimizeSolverFailure(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	o, m := newScripted(t, DefaultConfig(), 1,
		[]Option{WithDumper(FileDumper{Dir: dir, Now: func() time.Time { return now }}), WithMetrics(metrics)},
		step{status: convex.Infeasible},
	)
	o.AddCost(&funcCost{name: "square", f: square})
	o.AddConstraint(slackConstraint{})

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, SolverFailed, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []float64{1}, res.X)
	assertReleased(t, m)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("SOLVER_FAILED")))

	files, err := filepath.Glob(filepath.Join(dir, "scp-failure-*-001.yaml"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	dump := string(data)
	assert.Contains(t, dump, "iteration: 1")
	assert.Contains(t, dump, "trust_region/x/upper")
	assert.Contains(t, dump, "slack/cap")
}

func TestOptimizeDumpDirFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DumpDir = t.TempDir()
	o, _ := newScripted(t, cfg, 1, nil, step{status: convex.NumericFailure})
	o.AddCost(&funcCost{name: "square", f: square})

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, SolverFailed, res.Status)
	files, err := filepath.Glob(filepath.Join(cfg.DumpDir, "*.yaml"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestOptimizeConvexifyError(t *testing.T) {
	boom := errors.New("boom")
	o, m := newScripted(t, DefaultConfig(), 1, nil, ok(0, 0))
	o.AddConstraint(slackConstraint{})
	o.AddCost(&funcCost{name: "broken", f: square, err: boom})

	_, err := o.Optimize()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.solves)
	assertReleased(t, m)
}

// emptyCost convexifies to nothing at all.
type emptyCost struct{}

func (emptyCost) Name() string                          { return "empty" }
func (emptyCost) Value([]float64) float64               { return 0 }
func (emptyCost) Convexify([]float64) (*Fragment, error) { return nil, nil }

func TestOptimizeNilFragment(t *testing.T) {
	o, m := newScripted(t, DefaultConfig(), 1, nil, ok(0, 0))
	o.AddConstraint(slackConstraint{})
	o.AddCost(emptyCost{})

	_, err := o.Optimize()
	assert.ErrorIs(t, err, ErrNoFragment)
	assert.ErrorContains(t, err, "empty")
	assert.Equal(t, 0, m.solves)
	assertReleased(t, m)
}

func TestFragmentLeakReportUsesOptimizerLogger(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	o, m := newScripted(t, DefaultConfig(), 1, []Option{WithLogger(logger)})
	o.AddConstraint(slackConstraint{})

	fs, err := o.convexify(o.Values())
	require.NoError(t, err)
	f := fs.cnts[0]
	f.reportLeak()
	assert.Empty(t, logs.String())

	require.NoError(t, f.Register(m))
	f.reportLeak()
	assert.Contains(t, logs.String(), `"msg":"fragment collected while registered"`)
	assert.Contains(t, logs.String(), `"fragment":"slack"`)
	assert.Contains(t, logs.String(), `"component":"scp"`)

	require.NoError(t, release(fs.all()))
	assertReleased(t, m)
}

func TestOptimizeSetup(t *testing.T) {
	base, err := convex.NewSQPModel(convex.DefaultSettings())
	require.NoError(t, err)
	o, err := New(base, DefaultConfig(), WithLogger(quiet()))
	require.NoError(t, err)

	_, err = o.Optimize()
	assert.ErrorIs(t, err, ErrNoTrustRegion)

	tr := &BoxTrustRegion{factor: 1}
	require.NoError(t, o.SetTrustRegion(tr))
	_, err = o.Optimize()
	assert.ErrorIs(t, err, ErrNoVariables)

	x, err := o.AddVar("x", 0, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 5.0, x.Value())
	assert.Equal(t, 1.0, x.Handle().Start())

	o.AddConstraint(slackConstraint{})
	assert.ErrorIs(t, o.SetTrustRegion(tr), ErrTrustRegionOrder)
	assert.Error(t, o.SetValues([]float64{1, 2}))

	_, err = New(nil, DefaultConfig())
	assert.Error(t, err)
	cfg := DefaultConfig()
	cfg.TrustShrink = 2
	_, err = New(base, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// quadCost is (x - a)² + (y - b)², convexified exactly.
type quadCost struct {
	vars []*Variable
	a, b float64
}

func (c *quadCost) Name() string { return "quad" }

func (c *quadCost) Value(x []float64) float64 {
	dx, dy := c.vars[0].At(x)-c.a, c.vars[1].At(x)-c.b
	return dx*dx + dy*dy
}

func (c *quadCost) Convexify([]float64) (*Fragment, error) {
	f := NewFragment(c.Name())
	f.AddObjective(convex.Square(convex.Linear(1, c.vars[0].Handle()).Plus(convex.Const(-c.a))))
	f.AddObjective(convex.Square(convex.Linear(1, c.vars[1].Handle()).Plus(convex.Const(-c.b))))
	return f, nil
}

func TestOptimizeConvexQuadratic(t *testing.T) {
	m, err := convex.NewSQPModel(convex.DefaultSettings())
	require.NoError(t, err)
	cfg := DefaultConfig()
	o, err := New(m, cfg, WithLogger(quiet()))
	require.NoError(t, err)
	x, err := o.AddVar("x", math.Inf(-1), math.Inf(1), 0)
	require.NoError(t, err)
	y, err := o.AddVar("y", math.Inf(-1), math.Inf(1), 0)
	require.NoError(t, err)
	tr, err := NewBoxTrustRegion(o.Vars(), 10)
	require.NoError(t, err)
	require.NoError(t, o.SetTrustRegion(tr))
	o.AddCost(&quadCost{vars: []*Variable{x, y}, a: 1, b: -2})

	res, err := o.Optimize()
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.InDelta(t, 1, res.X[0], 1e-4)
	assert.InDelta(t, -2, res.X[1], 1e-4)
	assert.InDelta(t, cfg.TrustExpand, tr.Factor(), 1e-12)
	assert.Equal(t, 0, m.NumCnts())
	assert.Equal(t, 2, m.NumVars())
}
