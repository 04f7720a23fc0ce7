// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slsqp

import "math"

// almostEqual compares scalars or equally sized vectors element-wise within an absolute tolerance.
func almostEqual[T float64 | []float64](a, b T, tol float64) bool {
	within := func(a, b float64) bool {
		return a == b || math.Abs(a-b) <= tol
	}
	switch a := any(a).(type) {
	case float64:
		return within(a, any(b).(float64))
	case []float64:
		b := any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i, v := range a {
			if !within(v, b[i]) {
				return false
			}
		}
		return true
	}
	return false
}
