// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config specifies the trust-region iteration.
type Config struct {
	// Total number of convex solves allowed in one run.
	MaxIter int `yaml:"max_iter" toml:"max_iter"`
	// The run gives up when the trust region factor falls below this value.
	ShrinkLimit float64 `yaml:"shrink_limit" toml:"shrink_limit"`
	// Minimum ratio of true to predicted improvement for the region to expand after a step.
	TrustThresh float64 `yaml:"trust_thresh" toml:"trust_thresh"`
	// Multiplier applied to the region on a poor or rejected step, in (0,1).
	TrustShrink float64 `yaml:"trust_shrink" toml:"trust_shrink"`
	// Multiplier applied to the region on a good step, greater than 1.
	TrustExpand float64 `yaml:"trust_expand" toml:"trust_expand"`
	// The run converges when the true improvement falls below this value.
	DoneThresh float64 `yaml:"done_thresh" toml:"done_thresh"`
	// Predicted improvements below this value mean there is no room to improve.
	ZeroTol float64 `yaml:"zero_tol" toml:"zero_tol"`
	// Directory receiving a snapshot of the subproblem when the convex solver fails.
	DumpDir string `yaml:"dump_dir" toml:"dump_dir"`
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		MaxIter:     100,
		ShrinkLimit: 1e-5,
		TrustThresh: 0.2,
		TrustShrink: 0.1,
		TrustExpand: 1.5,
		DoneThresh:  1e-4,
		ZeroTol:     1e-7,
	}
}

// Validate checks the parameters.
func (c Config) Validate() (err error) {
	switch {
	case c.MaxIter <= 0:
		err = errors.New("max iter must greater than 0")
	case !(c.ShrinkLimit > 0) || c.ShrinkLimit >= 1:
		err = errors.New("shrink limit must in (0,1)")
	case math.IsNaN(c.TrustThresh) || c.TrustThresh < 0:
		err = errors.New("trust thresh must not less than 0")
	case !(c.TrustShrink > 0) || c.TrustShrink >= 1:
		err = errors.New("trust shrink must in (0,1)")
	case !(c.TrustExpand >= 1) || math.IsInf(c.TrustExpand, 0):
		err = errors.New("trust expand must not less than 1")
	case math.IsNaN(c.DoneThresh) || c.DoneThresh < 0:
		err = errors.New("done thresh must not less than 0")
	case math.IsNaN(c.ZeroTol) || c.ZeroTol < 0:
		err = errors.New("zero tol must not less than 0")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if err := DecodeFile(path, &c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// DecodeFile decodes a YAML or TOML file into v, chosen by the file extension.
func DecodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	case ".toml":
		err = toml.Unmarshal(data, v)
	default:
		return fmt.Errorf("scp: unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("scp: decode %s: %w", path, err)
	}
	return nil
}
