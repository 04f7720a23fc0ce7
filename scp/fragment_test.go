// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"math"
	"testing"

	"github.com/curioloop/scp/convex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel(t *testing.T) *convex.SQPModel {
	t.Helper()
	m, err := convex.NewSQPModel(convex.DefaultSettings())
	require.NoError(t, err)
	return m
}

// fixed adds a free variable to m and pins it at v with an equality carried by f.
func fixed(t *testing.T, m convex.Model, f *Fragment, name string, v float64) convex.Var {
	t.Helper()
	x := convex.NewVar(name, math.Inf(-1), math.Inf(1))
	x.SetStart(v)
	require.NoError(t, m.AddVar(x))
	f.AddEq(convex.Linear(1, x).Plus(convex.Const(-v)), name+"/pin")
	return x
}

func TestFragmentLifecycle(t *testing.T) {
	m := newModel(t)
	f := NewFragment("f")
	s := f.NewVar("s", 0, 1)
	f.AddIneq(convex.Linear(1, s), "a")
	f.AddEq(convex.Linear(1, s), "b")
	f.AddQuadIneq(convex.Square(convex.Linear(1, s)), "c")
	assert.Equal(t, "f/s", s.Name())
	assert.Equal(t, 3, f.NumConstraints())

	assert.ErrorIs(t, f.Unregister(), ErrFragmentNotRegistered)

	require.NoError(t, f.Register(m))
	assert.True(t, f.Registered())
	assert.Equal(t, 1, m.NumVars())
	assert.Equal(t, 3, m.NumCnts())
	snap := m.Snapshot()
	require.Len(t, snap.Constraints, 3)
	assert.Equal(t, []string{"f/a", "f/b", "f/c"},
		[]string{snap.Constraints[0].Name, snap.Constraints[1].Name, snap.Constraints[2].Name})

	assert.ErrorIs(t, f.Register(m), ErrFragmentRegistered)
	assert.ErrorIs(t, f.Close(), ErrFragmentLeaked)
	assert.True(t, f.Registered())
	assert.Panics(t, func() { f.AddIneq(convex.Const(1), "late") })

	require.NoError(t, f.Unregister())
	assert.False(t, f.Registered())
	assert.Equal(t, 0, m.NumVars())
	assert.Equal(t, 0, m.NumCnts())
	assert.ErrorIs(t, f.Unregister(), ErrFragmentNotRegistered)

	require.NoError(t, f.Register(m))
	require.NoError(t, f.Unregister())
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Register(m), ErrFragmentClosed)
	assert.Panics(t, func() { f.NewVar("t", 0, 1) })
}

func TestFragmentRegisterUnwinds(t *testing.T) {
	m := newModel(t)
	f := NewFragment("f")
	f.NewVar("a", 0, 1)
	b := f.NewVar("b", 0, 1)
	require.NoError(t, m.AddVar(b))

	err := f.Register(m)
	assert.ErrorIs(t, err, convex.ErrVarExists)
	assert.False(t, f.Registered())
	assert.Equal(t, 1, m.NumVars())
	assert.Equal(t, 0, m.NumCnts())
	require.NoError(t, f.Close())
}

func solveFragment(t *testing.T, m *convex.SQPModel, f *Fragment) float64 {
	t.Helper()
	require.NoError(t, f.Register(m))
	defer func() {
		require.NoError(t, f.Unregister())
		require.NoError(t, f.Close())
	}()
	m.SetObjective(f.Objective())
	require.Equal(t, convex.Optimal, m.Solve(), m.Snapshot().Detail)
	assert.InDelta(t, m.ObjectiveValue(), f.ObjectiveValue(m), 1e-9)
	return m.ObjectiveValue()
}

func TestAddAbsCost(t *testing.T) {
	for _, v := range []float64{2, -2} {
		m := newModel(t)
		f := NewFragment("abs")
		x := fixed(t, m, f, "x", v)
		s := f.AddAbsCost(3, convex.Linear(1, x), "e")
		assert.Equal(t, "abs/e/abs", s.Name())
		assert.Equal(t, 2.0, s.Start())
		assert.Equal(t, 3, f.NumConstraints())
		assert.InDelta(t, 6, solveFragment(t, m, f), 1e-6)
	}
}

func TestAddHingeCost(t *testing.T) {
	for v, want := range map[float64]float64{-2: 0, 2: 4} {
		m := newModel(t)
		f := NewFragment("hinge")
		x := fixed(t, m, f, "x", v)
		f.AddHingeCost(2, convex.Linear(1, x), "e")
		assert.Equal(t, 2, f.NumConstraints())
		assert.InDelta(t, want, solveFragment(t, m, f), 1e-6)
	}
}

func TestAddNormCost(t *testing.T) {
	m := newModel(t)
	f := NewFragment("norm")
	x := fixed(t, m, f, "x", 3)
	y := fixed(t, m, f, "y", 4)
	s := f.AddNormCost(1, []convex.AffExpr{convex.Linear(1, x), convex.Linear(1, y)}, "e")
	assert.Equal(t, 5.0, s.Start())
	// two pins, two coordinates and the cone
	assert.Equal(t, 5, f.NumConstraints())
	assert.Len(t, f.Vars(), 3)
	assert.InDelta(t, 5, solveFragment(t, m, f), 1e-5)
}
