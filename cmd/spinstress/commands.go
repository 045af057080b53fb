package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-ricrob/spinmutex/internal/stress"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var errCheckFailed = errors.New("check failed")

var descriptions = map[string]string{
	"counter":   "Increment one shared counter from every worker",
	"pingpong":  "Let two workers take turns through one cell",
	"release":   "Mix every way of releasing a guard",
	"partmap":   "Update zipfian distributed keys of a partitioned map",
	"linearize": "Check a register history for linearizability",
}

func workloadCmd(name string) *cobra.Command {
	var visualize string

	cmd := &cobra.Command{
		Use:   name,
		Short: descriptions[name],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd.Context(), name, config())
			if visualize != "" && res != nil {
				if verr := writeVisualization(res, visualize); verr != nil {
					return verr
				}
			}
			return err
		},
	}
	if name == "linearize" {
		cmd.Flags().StringVar(&visualize, "visualize", "", "write an HTML rendering of the history to this file")
	}
	return cmd
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every workload",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config()
		failed := 0
		for _, name := range stress.Names() {
			if _, err := run(cmd.Context(), name, cfg); err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d workloads", errCheckFailed, failed, len(stress.Names()))
		}
		return nil
	},
}

// run runs workload name and logs its result.
func run(ctx context.Context, name string, cfg stress.Config) (stress.Resulter, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runner, err := stress.New(name, cfg)
	if err != nil {
		return nil, err
	}

	res := runner.Run(ctx)
	lat := res.Latency()
	entry := logrus.WithFields(logrus.Fields{
		"workload": res.Name(),
		"ops":      res.NumOp(),
		"p50":      lat.P50,
		"p99":      lat.P99,
		"max":      lat.Max,
	})
	if err := res.Err(); err != nil {
		entry.WithError(err).Error("check failed")
		return res, fmt.Errorf("%w: %s: %w", errCheckFailed, name, err)
	}
	entry.Info("check passed")
	return res, nil
}

func writeVisualization(res stress.Resulter, path string) error {
	v, ok := res.(stress.Visualizer)
	if !ok {
		return fmt.Errorf("workload %s has no history to visualize", res.Name())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := v.Visualize(f); err != nil {
		f.Close()
		return err
	}
	logrus.WithField("file", path).Info("history written")
	return f.Close()
}
