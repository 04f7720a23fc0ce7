// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

type logFlags struct {
	level  string
	format string
}

func (f *logFlags) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", f.level)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch f.format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", f.format)
}

func newRootCmd() *cobra.Command {
	lf := &logFlags{}
	root := &cobra.Command{
		Use:   "scpopt",
		Short: "Trust-region sequential convex programming",
		Long: `scpopt minimizes the costs of a problem file subject to its constraints
by solving a series of convex subproblems inside an adaptive trust region.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := lf.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&lf.level, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&lf.format, "log-format", "text", "Log format (text, json)")
	root.AddCommand(newSolveCmd(), newVersionCmd())
	return root
}
