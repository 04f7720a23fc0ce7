// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package convex

import "errors"

var (
	ErrNilVar       = errors.New("convex: variable handle is nil")
	ErrVarExists    = errors.New("convex: variable already in model")
	ErrUnknownVar   = errors.New("convex: variable not in model")
	ErrUnknownCnt   = errors.New("convex: constraint not in model")
	ErrInvalidBound = errors.New("convex: lower bound greater than upper bound")
)
