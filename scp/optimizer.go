// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scp implements a trust-region sequential convex programming driver.
//
// The driver minimizes ∑ 𝒇ₖ(𝐱) subject to constraints 𝒄ⱼ(𝐱) by solving a series of convex subproblems.
// At the iterate 𝐱ᵏ every cost and constraint term is convexified into a Fragment,
// the fragments are handed to a convex.Model together with a trust region ‖𝐱 - 𝐱ᵏ‖ ≤ 𝛕𝐫,
// and the solution 𝐱̃ of the subproblem is a candidate for 𝐱ᵏ⁺¹.
//
// # Step acceptance
//
// Let 𝐟 = ∑𝒇ₖ(𝐱ᵏ) be the exact cost at the iterate, 𝐟̃ the optimal value of the subproblem and
// 𝐟⁺ = ∑𝒇ₖ(𝐱̃) the exact cost at the candidate:
//   - predicted improvement 𝚫̃ = 𝐟 - 𝐟̃
//   - true improvement 𝚫 = 𝐟 - 𝐟⁺
//   - ratio 𝛒 = 𝚫 / 𝚫̃
//
// When 𝚫̃ falls below the zero tolerance the model has no room to improve.
// When 𝐟⁺ > 𝐟 the candidate is rejected, the point rolled back and the region shrunk by 𝛕 ← 𝛕·𝚜𝚑𝚛𝚒𝚗𝚔.
// Otherwise the candidate is accepted and the region shrunk when 𝛒 < 𝚝𝚑𝚛𝚎𝚜𝚑 or expanded by 𝛕 ← 𝛕·𝚎𝚡𝚙𝚊𝚗𝚍.
//
// # Termination
//
// Checked after each outer iteration, in order:
//   - the solve budget is exhausted → IterationLimit
//   - 𝛕 < 𝚜𝚑𝚛𝚒𝚗𝚔𝙻𝚒𝚖𝚒𝚝 → ShrinkageLimit
//   - 𝚫̃ < 𝚣𝚎𝚛𝚘𝚃𝚘𝚕 → Converged (negative 𝚫̃ is reported as a modelling defect)
//   - 𝚫 < 𝚍𝚘𝚗𝚎𝚃𝚑𝚛𝚎𝚜𝚑 and 𝛒 > 𝚝𝚑𝚛𝚎𝚜𝚑 → Converged
//
// A convex solve that is not optimal ends the run with SolverFailed.
package scp

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/curioloop/scp/convex"
	"gonum.org/v1/gonum/floats"
)

// Callback observes every committed candidate point.
type Callback func(x []float64)

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Optimizer) {
		o.log = logger
	}
}

// WithDumper sets where failing subproblems are written, overriding Config.DumpDir.
func WithDumper(d Dumper) Option {
	return func(o *Optimizer) {
		o.dump = d
	}
}

// WithMetrics enables prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Optimizer) {
		o.metrics = m
	}
}

// Optimizer owns the terms of a problem and the convex model its subproblems are solved in.
// An Optimizer is not safe for concurrent use.
type Optimizer struct {
	cfg     Config
	model   convex.Model
	vars    []*Variable
	costs   []Cost
	cnts    []Constraint
	trust   TrustRegion
	calls   []Callback
	log     *slog.Logger
	dump    Dumper
	metrics *Metrics
}

// New creates an optimizer solving its subproblems in model.
func New(model convex.Model, cfg Config, opts ...Option) (*Optimizer, error) {
	if model == nil {
		return nil, errors.New("scp: model is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{cfg: cfg, model: model}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With("component", "scp")
	if o.dump == nil && cfg.DumpDir != "" {
		o.dump = FileDumper{Dir: cfg.DumpDir}
	}
	return o, nil
}

// Config returns the configuration of o.
func (o *Optimizer) Config() Config { return o.cfg }

// AddVar adds a variable with bounds and initial value to the problem and to the model.
func (o *Optimizer) AddVar(name string, lower, upper, init float64) (*Variable, error) {
	h := convex.NewVar(name, lower, upper)
	if err := o.model.AddVar(h); err != nil {
		return nil, err
	}
	v := &Variable{handle: h, index: len(o.vars)}
	v.set(init)
	o.vars = append(o.vars, v)
	return v, nil
}

// Vars returns the problem variables.
func (o *Optimizer) Vars() []*Variable { return o.vars }

// Values returns the current point.
func (o *Optimizer) Values() []float64 {
	x := make([]float64, len(o.vars))
	for i, v := range o.vars {
		x[i] = v.value
	}
	return x
}

// SetValues overwrites the current point, for example to restart from a different initial guess.
func (o *Optimizer) SetValues(x []float64) error {
	if len(x) != len(o.vars) {
		return fmt.Errorf("scp: point has %d values for %d variables", len(x), len(o.vars))
	}
	for i, v := range o.vars {
		v.set(x[i])
	}
	return nil
}

// AddCost appends a cost term. The total cost is the sum of every cost term.
func (o *Optimizer) AddCost(c Cost) {
	o.costs = append(o.costs, c)
}

// AddConstraint appends a constraint term. The trust region must already be set.
func (o *Optimizer) AddConstraint(c Constraint) {
	o.cnts = append(o.cnts, c)
}

// SetTrustRegion installs the trust region. It must be called before AddConstraint.
func (o *Optimizer) SetTrustRegion(tr TrustRegion) error {
	if len(o.cnts) > 0 {
		return ErrTrustRegionOrder
	}
	if tr == nil {
		return ErrNoTrustRegion
	}
	o.trust = tr
	return nil
}

// TrustRegion returns the installed trust region.
func (o *Optimizer) TrustRegion() TrustRegion { return o.trust }

// AddCallback registers fn to be called after each committed candidate point.
func (o *Optimizer) AddCallback(fn Callback) {
	o.calls = append(o.calls, fn)
}

// run is the mutable state of one Optimize call.
type run struct {
	iter      int
	costVals  []float64
	cost      float64
	trueImp   float64
	approxImp float64
	ratio     float64
}

func (o *Optimizer) evalCosts(x []float64) []float64 {
	vals := make([]float64, len(o.costs))
	for i, c := range o.costs {
		vals[i] = c.Value(x)
	}
	return vals
}

func (o *Optimizer) save() {
	for _, v := range o.vars {
		v.backup = v.value
	}
}

func (o *Optimizer) rollback() {
	for _, v := range o.vars {
		v.set(v.backup)
	}
}

func (o *Optimizer) commit(x []float64) {
	for i, v := range o.vars {
		v.set(x[i])
	}
	for _, c := range o.costs {
		if u, ok := c.(PostUpdater); ok {
			u.PostUpdate(x)
		}
	}
	for _, c := range o.cnts {
		if u, ok := c.(PostUpdater); ok {
			u.PostUpdate(x)
		}
	}
	for _, fn := range o.calls {
		fn(x)
	}
}

// Optimize runs the trust-region iteration from the current point.
// The returned error reports misuse or broken solver bookkeeping, every algorithmic outcome is a Status.
func (o *Optimizer) Optimize() (*Result, error) {
	switch {
	case o.trust == nil:
		return nil, ErrNoTrustRegion
	case len(o.vars) == 0:
		return nil, ErrNoVariables
	}

	o.trust.Reset()
	r := &run{}
	o.log.Info("optimization started", "vars", len(o.vars), "costs", len(o.costs), "constraints", len(o.cnts))

	for {
		st, done, err := o.outer(r)
		if err != nil {
			return nil, err
		}
		if done {
			o.metrics.run(st)
			x := o.Values()
			res := &Result{Status: st, Iterations: r.iter, Cost: floats.Sum(o.evalCosts(x)), X: x}
			o.log.Info("optimization finished", "status", st, "iterations", r.iter, "cost", res.Cost)
			return res, nil
		}
	}
}

// fragments holds everything registered for one outer iteration.
type fragments struct {
	trust *Fragment
	cnts  []*Fragment
	costs []*Fragment
}

func (fs *fragments) all() []*Fragment {
	all := make([]*Fragment, 0, 1+len(fs.cnts)+len(fs.costs))
	if fs.trust != nil {
		all = append(all, fs.trust)
	}
	all = append(all, fs.cnts...)
	return append(all, fs.costs...)
}

// release unregisters and closes every fragment, collecting failures.
func release(frags []*Fragment) error {
	var errs []error
	for _, f := range frags {
		if f.Registered() {
			if err := f.Unregister(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// adopt checks the result of a Convexify call and routes the fragment's leak report to the optimizer's logger.
func (o *Optimizer) adopt(name string, f *Fragment, err error) (*Fragment, error) {
	switch {
	case err != nil:
		return nil, fmt.Errorf("scp: convexify %s: %w", name, err)
	case f == nil:
		return nil, fmt.Errorf("scp: convexify %s: %w", name, ErrNoFragment)
	}
	f.log = o.log
	return f, nil
}

func (o *Optimizer) convexify(x []float64) (fs *fragments, err error) {
	fs = &fragments{}
	defer func() {
		if err != nil {
			err = errors.Join(err, release(fs.all()))
			fs = nil
		}
	}()
	tf, err := o.trust.Convexify(x)
	if fs.trust, err = o.adopt(o.trust.Name(), tf, err); err != nil {
		return fs, err
	}
	for _, c := range o.cnts {
		f, err := c.Convexify(x)
		if f, err = o.adopt(c.Name(), f, err); err != nil {
			return fs, err
		}
		fs.cnts = append(fs.cnts, f)
	}
	for _, c := range o.costs {
		f, err := c.Convexify(x)
		if f, err = o.adopt(c.Name(), f, err); err != nil {
			return fs, err
		}
		fs.costs = append(fs.costs, f)
	}
	return fs, nil
}

// outer performs one outer iteration and the termination checks that follow it.
func (o *Optimizer) outer(r *run) (Status, bool, error) {
	failed, err := o.solveRegion(r)
	switch {
	case err != nil:
		return 0, true, err
	case failed:
		return SolverFailed, true, nil
	}

	cfg := o.cfg
	switch {
	case r.iter >= cfg.MaxIter:
		return IterationLimit, true, nil
	case o.trust.Factor() < cfg.ShrinkLimit:
		return ShrinkageLimit, true, nil
	case r.approxImp < 0:
		o.log.Warn("converged because the model predicts a negative improvement, check the convexification of the terms",
			"approx_improve", r.approxImp)
		return Converged, true, nil
	case r.approxImp < cfg.ZeroTol:
		o.log.Info("converged because the model has no room to improve", "approx_improve", r.approxImp)
		return Converged, true, nil
	case r.trueImp < cfg.DoneThresh && r.ratio > cfg.TrustThresh:
		o.log.Info("converged because the improvement is small", "true_improve", r.trueImp, "ratio", r.ratio)
		return Converged, true, nil
	}
	return 0, false, nil
}

// solveRegion convexifies at the current point and runs the inner loop until a step is accepted,
// the model runs out of room, the region collapses or the budget is spent.
// Every fragment is unregistered before it returns.
func (o *Optimizer) solveRegion(r *run) (failed bool, err error) {
	x := o.Values()
	if r.costVals == nil {
		r.costVals = o.evalCosts(x)
	}
	r.cost = floats.Sum(r.costVals)
	o.metrics.observe(o.trust.Factor(), r.cost)

	fs, err := o.convexify(x)
	if err != nil {
		return false, err
	}
	defer func() {
		err = errors.Join(err, release(fs.all()))
	}()

	for _, f := range fs.all() {
		if err := f.Register(o.model); err != nil {
			return false, err
		}
	}
	var objective convex.QuadExpr
	for _, f := range fs.costs {
		objective = objective.Plus(f.Objective())
	}
	o.model.SetObjective(objective)

	cfg := o.cfg
	for o.trust.Factor() >= cfg.ShrinkLimit && r.iter < cfg.MaxIter {
		r.iter++
		o.log.Info("solving subproblem", "iter", r.iter, "cost", r.cost, "trust_factor", o.trust.Factor())

		o.metrics.solverCall()
		if st := o.model.Solve(); st != convex.Optimal {
			o.solverFailure(r.iter, st)
			return true, nil
		}

		approxNew := o.model.ObjectiveValue()
		cand := make([]float64, len(o.vars))
		for i, v := range o.vars {
			cand[i] = o.model.Value(v.handle)
		}

		o.save()
		o.commit(cand)

		newVals := o.evalCosts(cand)
		newCost := floats.Sum(newVals)
		r.trueImp = r.cost - newCost
		r.approxImp = r.cost - approxNew
		r.ratio = r.trueImp / r.approxImp
		o.report(r, fs.costs, newVals)

		if r.approxImp < cfg.ZeroTol {
			if r.approxImp < 0 {
				o.log.Error("model inconsistency: convex model predicts a worse cost than the current point",
					"iter", r.iter, "approx_improve", r.approxImp)
			}
			if r.approxImp < 0 || newCost > r.cost {
				o.rollback()
			} else {
				r.costVals = newVals
			}
			o.metrics.step(stepStalled)
			return false, nil
		}

		if newCost > r.cost {
			o.log.Info("step rejected, shrinking trust region", "iter", r.iter, "true_improve", r.trueImp)
			o.metrics.step(stepRejected)
			o.rollback()
			o.trust.Adjust(cfg.TrustShrink)
			if err := o.replaceTrust(fs); err != nil {
				return false, err
			}
			continue
		}

		o.metrics.step(stepAccepted)
		r.costVals = newVals
		if r.ratio < cfg.TrustThresh {
			o.log.Info("step accepted, shrinking trust region", "iter", r.iter, "ratio", r.ratio)
			o.trust.Adjust(cfg.TrustShrink)
		} else {
			o.log.Info("step accepted, expanding trust region", "iter", r.iter, "ratio", r.ratio)
			o.trust.Adjust(cfg.TrustExpand)
		}
		return false, nil
	}
	return false, nil
}

// replaceTrust swaps the registered trust region fragment for one rebuilt at the current point.
func (o *Optimizer) replaceTrust(fs *fragments) error {
	old := fs.trust
	fs.trust = nil
	if err := release([]*Fragment{old}); err != nil {
		return err
	}
	f, err := o.trust.Convexify(o.Values())
	if f, err = o.adopt(o.trust.Name(), f, err); err != nil {
		return err
	}
	fs.trust = f
	return f.Register(o.model)
}

func (o *Optimizer) report(r *run, frags []*Fragment, newVals []float64) {
	for i, c := range o.costs {
		old := r.costVals[i]
		dApprox := old - frags[i].ObjectiveValue(o.model)
		dExact := old - newVals[i]
		o.log.Info("cost improvement", "iter", r.iter, "cost", c.Name(),
			"old", old, "dapprox", dApprox, "dexact", dExact, "ratio", dExact/dApprox)
	}
	for _, c := range o.cnts {
		if vio := c.Violation(o.Values()); vio > 0 {
			o.log.Info("constraint violated", "iter", r.iter, "constraint", c.Name(), "violation", vio)
		}
	}
}

func (o *Optimizer) solverFailure(iter int, st convex.Status) {
	attrs := []any{"iter", iter, "status", st}
	if o.dump != nil {
		path, err := o.dump.Dump(iter, o.model.Snapshot())
		if err != nil {
			attrs = append(attrs, "dump_error", err)
		} else {
			attrs = append(attrs, "dump", path)
		}
	}
	o.log.Error("convex solver failed", attrs...)
}

// MaxViolation returns the largest violation of the ordinary constraints at x.
func (o *Optimizer) MaxViolation(x []float64) float64 {
	vio := 0.0
	for _, c := range o.cnts {
		vio = math.Max(vio, c.Violation(x))
	}
	return vio
}
