// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/curioloop/scp/convex"
	"github.com/curioloop/scp/problem"
	"github.com/curioloop/scp/scp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type solveFlags struct {
	problem      string
	config       string
	solverConfig string
	dumpDir      string
	metricsOut   string
}

type varResult struct {
	Name  string  `yaml:"name"`
	Value float64 `yaml:"value"`
}

type solveResult struct {
	Status       scp.Status  `yaml:"status"`
	Iterations   int         `yaml:"iterations"`
	Cost         float64     `yaml:"cost"`
	MaxViolation float64     `yaml:"max_violation"`
	Elapsed      string      `yaml:"elapsed"`
	Variables    []varResult `yaml:"variables"`
}

func newSolveCmd() *cobra.Command {
	f := &solveFlags{}
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a problem file",
		Long: `Solves a YAML or TOML problem file and writes the result as YAML.
Built-in functions: rosenbrock, circle, unit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.problem, "problem", "", "Problem file path (required)")
	cmd.Flags().StringVar(&f.config, "config", "", "Optimizer config file (YAML or TOML)")
	cmd.Flags().StringVar(&f.solverConfig, "solver-config", "", "Convex solver settings file (YAML or TOML)")
	cmd.Flags().StringVar(&f.dumpDir, "dump-dir", "", "Directory receiving failed subproblems")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "Write prometheus metrics to this textfile")
	_ = cmd.MarkFlagRequired("problem")
	return cmd
}

func loadSettings(path string) (convex.Settings, error) {
	s := convex.DefaultSettings()
	if path == "" {
		return s, nil
	}
	if err := scp.DecodeFile(path, &s); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func runSolve(cmd *cobra.Command, f *solveFlags) error {
	cfg := scp.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = scp.LoadConfig(f.config); err != nil {
			return err
		}
	}
	if f.dumpDir != "" {
		cfg.DumpDir = f.dumpDir
	}
	settings, err := loadSettings(f.solverConfig)
	if err != nil {
		return err
	}

	prob, err := problem.Load(f.problem)
	if err != nil {
		return err
	}
	model, err := convex.NewSQPModel(settings)
	if err != nil {
		return err
	}

	opts := []scp.Option{scp.WithLogger(slog.Default())}
	reg := prometheus.NewRegistry()
	if f.metricsOut != "" {
		metrics, err := scp.NewMetrics(reg)
		if err != nil {
			return err
		}
		opts = append(opts, scp.WithMetrics(metrics))
	}
	opt, err := scp.New(model, cfg, opts...)
	if err != nil {
		return err
	}
	if err = prob.Build(opt); err != nil {
		return err
	}

	slog.Info("solving problem", "path", f.problem, "vars", len(prob.Variables))
	start := time.Now()
	res, err := opt.Optimize()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	out := solveResult{
		Status:       res.Status,
		Iterations:   res.Iterations,
		Cost:         res.Cost,
		MaxViolation: opt.MaxViolation(res.X),
		Elapsed:      elapsed.String(),
	}
	for i, v := range opt.Vars() {
		out.Variables = append(out.Variables, varResult{Name: v.Name(), Value: res.X[i]})
	}

	if f.metricsOut != "" {
		if err := prometheus.WriteToTextfile(f.metricsOut, reg); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
