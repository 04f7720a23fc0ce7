package numdiff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func objV2(x, y []float64) {
	y[0] = x[0] * math.Sin(x[1])
	y[1] = x[1] * math.Cos(x[0])
	y[2] = math.Pow(x[0], 3) * math.Pow(x[1], -0.5)
}

func jacV2(x []float64) []float64 {
	return []float64{
		math.Sin(x[1]), x[0] * math.Cos(x[1]),
		-x[1] * math.Sin(x[0]), math.Cos(x[0]),
		3 * math.Pow(x[0], 2) * math.Pow(x[1], -0.5), -0.5 * math.Pow(x[0], 3) * math.Pow(x[1], -1.5),
	}
}

func transpose(jac []float64, m, n int) []float64 {
	t := make([]float64, len(jac))
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			t[j*m+i] = jac[i*n+j]
		}
	}
	return t
}

func TestDiff(t *testing.T) {
	x0 := []float64{1.0, 2.0}
	want := jacV2(x0)

	tests := []struct {
		name   string
		spec   ApproxSpec
		x0     []float64
		tol    float64
		transp bool
	}{
		{"forward", ApproxSpec{Method: Forward}, x0, 1e-6, false},
		{"central", ApproxSpec{Method: Central}, x0, 1e-9, false},
		{"lower bound", ApproxSpec{Method: Central, Bounds: []Bound{{1, math.Inf(1)}, {1, math.Inf(1)}}}, x0, 1e-8, false},
		{"upper bound", ApproxSpec{Method: Central, Bounds: []Bound{{math.Inf(-1), 2}, {math.Inf(-1), 2}}}, x0, 1e-8, false},
		{"tight bound", ApproxSpec{Method: Central, Bounds: []Bound{{1, 2}, {1, 2}}}, x0, 1e-8, false},
		{"abs step", ApproxSpec{Method: Forward, AbsStep: 1.49e-8}, x0, 1e-6, false},
		{"transposed", ApproxSpec{Method: Central, TransJac: true}, x0, 1e-9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			as := tt.spec
			as.N, as.M, as.Object = 2, 3, objV2
			jac := make([]float64, 6)
			require.NoError(t, as.Diff(tt.x0, jac))
			exp := want
			if tt.transp {
				exp = transpose(want, 3, 2)
			}
			assert.InDeltaSlice(t, exp, jac, tt.tol)
		})
	}
}

func TestCheck(t *testing.T) {
	jac := make([]float64, 6)
	tests := map[string]ApproxSpec{
		"dimensions": {N: 0, M: 3, Object: objV2},
		"method":     {N: 2, M: 3, Object: objV2, Method: Method(7)},
		"object":     {N: 2, M: 3},
		"bound size": {N: 2, M: 3, Object: objV2, Bounds: []Bound{{0, 1}}},
		"bound":      {N: 2, M: 3, Object: objV2, Bounds: []Bound{{1, 0}, {0, 1}}},
		"x0":         {N: 2, M: 3, Object: objV2, Bounds: []Bound{{-1, 1}, {-1, 1}}},
	}
	for name, as := range tests {
		assert.Error(t, as.Diff([]float64{-2.0, 0.2}, jac), name)
	}

	as := ApproxSpec{N: 2, M: 3, Object: objV2, Bounds: []Bound{{-1, 1}, {-1, 1}}, NotChkBnd: true}
	assert.NoError(t, as.Diff([]float64{-2.0, 0.2}, jac))
	assert.Error(t, as.Diff([]float64{1}, jac))
	assert.Error(t, as.Diff([]float64{1, 2}, jac[:5]))
}

func TestLinearize(t *testing.T) {
	x0 := []float64{1.5, 2}
	y := make([]float64, 3)
	jac := make([]float64, 6)

	as := ApproxSpec{N: 2, M: 3, Object: objV2, Method: Central}
	require.NoError(t, as.Linearize(x0, y, jac))

	want := make([]float64, 3)
	objV2(x0, want)
	assert.Equal(t, want, y)
	assert.InDeltaSlice(t, jacV2(x0), jac, 1e-6)
	assert.Equal(t, []float64{1.5, 2}, x0)

	assert.Error(t, as.Linearize(x0, y[:2], jac))
}
