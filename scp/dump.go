// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/curioloop/scp/convex"
	"gopkg.in/yaml.v3"
)

// Dumper persists the subproblem a convex solve failed on. The format is for humans only.
type Dumper interface {
	Dump(iter int, snap convex.Snapshot) (string, error)
}

// FileDumper writes each snapshot as a YAML file under Dir.
type FileDumper struct {
	Dir string
	Now func() time.Time
}

type failureDump struct {
	Iteration int             `yaml:"iteration"`
	Time      time.Time       `yaml:"time"`
	Model     convex.Snapshot `yaml:"model"`
}

func (d FileDumper) Dump(iter int, snap convex.Snapshot) (string, error) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	t := now()
	data, err := yaml.Marshal(failureDump{Iteration: iter, Time: t, Model: snap})
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("scp-failure-%s-%03d.yaml", t.Format("20060102T150405.000000000"), iter)
	path := filepath.Join(d.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
