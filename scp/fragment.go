// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/curioloop/scp/convex"
)

type fragState int

const (
	unregistered fragState = iota
	registered
	closed
)

func (s fragState) String() string {
	switch s {
	case unregistered:
		return "unregistered"
	case registered:
		return "registered"
	}
	return "closed"
}

type affCnt struct {
	expr convex.AffExpr
	tag  string
}

type quadCnt struct {
	expr convex.QuadExpr
	tag  string
}

// Fragment is the convex surrogate of one term at one point:
// tagged inequalities 𝒈(𝐱) ≤ 0, equalities 𝒉(𝐱) = 0, quadratic inequalities 𝒒(𝐱) ≤ 0,
// the auxiliary variables they use and, for costs, an objective expression.
//
// A fragment goes through
//
//	unregistered ── Register ──▶ registered ── Unregister ──▶ unregistered ── Close ──▶ closed
//
// Every transition outside this path fails with a sentinel error instead of touching the model.
// A fragment that is garbage collected while registered is reported through the logger of the
// optimizer that convexified it, or slog.Default for fragments built outside an optimizer.
type Fragment struct {
	name      string
	vars      []convex.Var
	ineqs     []affCnt
	eqs       []affCnt
	quads     []quadCnt
	objective convex.QuadExpr

	state   fragState
	model   convex.Model
	added   []convex.Var
	handles []convex.Cnt
	log     *slog.Logger
}

// NewFragment creates an empty unregistered fragment.
func NewFragment(name string) *Fragment {
	f := &Fragment{name: name}
	runtime.SetFinalizer(f, (*Fragment).reportLeak)
	return f
}

func (f *Fragment) reportLeak() {
	if f.state != registered {
		return
	}
	log := f.log
	if log == nil {
		log = slog.Default()
	}
	log.Error("fragment collected while registered", "fragment", f.name,
		"vars", len(f.added), "constraints", len(f.handles))
}

func (f *Fragment) Name() string { return f.name }

// Registered reports whether f currently holds solver resources.
func (f *Fragment) Registered() bool { return f.state == registered }

func (f *Fragment) mutable() {
	if f.state != unregistered {
		panic(fmt.Sprintf("scp: fragment %s modified while %s", f.name, f.state))
	}
}

func (f *Fragment) tag(t string) string {
	if t == "" {
		return f.name
	}
	return f.name + "/" + t
}

// NewVar creates an auxiliary variable owned by f. It joins the model when f is registered.
func (f *Fragment) NewVar(name string, lower, upper float64) convex.Var {
	f.mutable()
	v := convex.NewVar(f.tag(name), lower, upper)
	f.vars = append(f.vars, v)
	return v
}

// AddIneq adds e ≤ 0.
func (f *Fragment) AddIneq(e convex.AffExpr, tag string) {
	f.mutable()
	f.ineqs = append(f.ineqs, affCnt{e.Clone(), f.tag(tag)})
}

// AddEq adds e = 0.
func (f *Fragment) AddEq(e convex.AffExpr, tag string) {
	f.mutable()
	f.eqs = append(f.eqs, affCnt{e.Clone(), f.tag(tag)})
}

// AddQuadIneq adds q ≤ 0. The caller is responsible for q describing a convex set.
func (f *Fragment) AddQuadIneq(q convex.QuadExpr, tag string) {
	f.mutable()
	f.quads = append(f.quads, quadCnt{q.Clone(), f.tag(tag)})
}

// AddObjective adds q to the objective of f.
func (f *Fragment) AddObjective(q convex.QuadExpr) {
	f.mutable()
	f.objective = f.objective.Plus(q)
}

// Objective returns the objective expression of f.
func (f *Fragment) Objective() convex.QuadExpr { return f.objective }

// ObjectiveValue evaluates the objective of f at the last solution of m.
func (f *Fragment) ObjectiveValue(m convex.Model) float64 {
	return f.objective.Eval(m.Value)
}

// NumConstraints returns the number of constraints f adds to a model.
func (f *Fragment) NumConstraints() int {
	return len(f.ineqs) + len(f.eqs) + len(f.quads)
}

// Vars returns the auxiliary variables owned by f.
func (f *Fragment) Vars() []convex.Var { return f.vars }

// Register adds the auxiliary variables, inequalities, equalities and quadratic inequalities of f to m, in that order.
// On failure everything added so far is removed again and f stays unregistered.
func (f *Fragment) Register(m convex.Model) error {
	switch f.state {
	case registered:
		return fmt.Errorf("%w: %s", ErrFragmentRegistered, f.name)
	case closed:
		return fmt.Errorf("%w: %s", ErrFragmentClosed, f.name)
	}

	f.model = m
	err := f.register(m)
	if err != nil {
		err = errors.Join(fmt.Errorf("scp: register %s: %w", f.name, err), f.release())
		f.model = nil
		return err
	}
	f.state = registered
	return nil
}

func (f *Fragment) register(m convex.Model) error {
	for _, v := range f.vars {
		if err := m.AddVar(v); err != nil {
			return err
		}
		f.added = append(f.added, v)
	}
	for _, c := range f.ineqs {
		h, err := m.AddIneq(c.expr, c.tag)
		if err != nil {
			return err
		}
		f.handles = append(f.handles, h)
	}
	for _, c := range f.eqs {
		h, err := m.AddEq(c.expr, c.tag)
		if err != nil {
			return err
		}
		f.handles = append(f.handles, h)
	}
	for _, c := range f.quads {
		h, err := m.AddQuadIneq(c.expr, c.tag)
		if err != nil {
			return err
		}
		f.handles = append(f.handles, h)
	}
	return nil
}

// release removes everything f added, in reverse order.
func (f *Fragment) release() error {
	var errs []error
	for i := len(f.handles) - 1; i >= 0; i-- {
		if err := f.model.RemoveCnt(f.handles[i]); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(f.added) - 1; i >= 0; i-- {
		if err := f.model.RemoveVar(f.added[i]); err != nil {
			errs = append(errs, err)
		}
	}
	f.handles, f.added = nil, nil
	return errors.Join(errs...)
}

// Unregister removes everything Register added.
func (f *Fragment) Unregister() error {
	if f.state != registered {
		return fmt.Errorf("%w: %s", ErrFragmentNotRegistered, f.name)
	}
	err := f.release()
	f.state, f.model = unregistered, nil
	if err != nil {
		return fmt.Errorf("scp: unregister %s: %w", f.name, err)
	}
	return nil
}

// Close destroys f. Closing a registered fragment fails with ErrFragmentLeaked and leaves f registered.
func (f *Fragment) Close() error {
	switch f.state {
	case registered:
		return fmt.Errorf("%w: %s", ErrFragmentLeaked, f.name)
	case closed:
		return nil
	}
	f.state = closed
	runtime.SetFinalizer(f, nil)
	return nil
}
