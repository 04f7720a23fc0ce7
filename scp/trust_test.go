// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVars(t *testing.T, names ...string) []*Variable {
	t.Helper()
	m := newModel(t)
	o, err := New(m, DefaultConfig(), WithLogger(quiet()))
	require.NoError(t, err)
	for _, name := range names {
		_, err := o.AddVar(name, math.Inf(-1), math.Inf(1), 0)
		require.NoError(t, err)
	}
	return o.Vars()
}

func TestNewBoxTrustRegion(t *testing.T) {
	vars := newVars(t, "x", "y")
	_, err := NewBoxTrustRegion(nil, 1)
	assert.Error(t, err)
	_, err = NewBoxTrustRegion(vars, 1, 2, 3)
	assert.Error(t, err)
	_, err = NewBoxTrustRegion(vars, 0)
	assert.Error(t, err)
	_, err = NewBoxTrustRegion(vars, 1, math.Inf(1))
	assert.Error(t, err)

	tr, err := NewBoxTrustRegion(vars, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "trust_region", tr.Name())
	assert.Equal(t, 1.0, tr.Factor())
	assert.Equal(t, 2.0, tr.Radius(1))
}

func TestBoxTrustRegionConvexify(t *testing.T) {
	vars := newVars(t, "x", "y")
	tr, err := NewBoxTrustRegion(vars, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tr.Violation([]float64{100, 100}))

	x := []float64{1, -1}
	f, err := tr.Convexify(x)
	require.NoError(t, err)
	require.Equal(t, 4, f.NumConstraints())
	assert.Equal(t, "1*x + -2", f.ineqs[0].expr.String())
	assert.Equal(t, "trust_region/x/upper", f.ineqs[0].tag)
	assert.Equal(t, "-1*x", f.ineqs[1].expr.String())
	assert.Equal(t, "1*y + -1", f.ineqs[2].expr.String())
	assert.Equal(t, "-1*y + -3", f.ineqs[3].expr.String())
	require.NoError(t, f.Close())

	assert.Equal(t, 0.0, tr.Violation([]float64{1.5, 0}))
	assert.InDelta(t, 0.5, tr.Violation([]float64{2.5, 0}), 1e-12)

	tr.Adjust(0.5)
	assert.Equal(t, 0.5, tr.Factor())
	assert.Equal(t, 1.0, tr.Radius(1))
	f, err = tr.Convexify(x)
	require.NoError(t, err)
	assert.Equal(t, "1*x + -1.5", f.ineqs[0].expr.String())
	require.NoError(t, f.Close())

	tr.Adjust(0.5)
	tr.Reset()
	assert.Equal(t, 1.0, tr.Factor())
	f, err = tr.Convexify([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, "1*x + -1", f.ineqs[0].expr.String())
	require.NoError(t, f.Close())
}

func TestBoxTrustRegionMonotone(t *testing.T) {
	vars := newVars(t, "x")
	tr, err := NewBoxTrustRegion(vars, 1)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		tr.Adjust(1.2)
		assert.InDelta(t, math.Pow(1.2, float64(i)), tr.Factor(), 1e-12)
	}
	tr.Reset()
	assert.Equal(t, 1.0, tr.Factor())
}
