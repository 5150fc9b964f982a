package cmd

import (
	"fmt"

	"github.com/amirkhaki/dettrace/pkg/ctxlog"
	"github.com/amirkhaki/dettrace/pkg/sim"
	"github.com/amirkhaki/dettrace/pkg/trace"
	"github.com/spf13/cobra"
)

// newSimulateCmd runs a workload and records its scheduling decisions
func newSimulateCmd() *cobra.Command {
	var w workloadFlags
	var dump bool

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "run a simulated workload through the scheduler and record the trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := w.load(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer w.startTracing(ctx)()

			path := w.tracePath()
			rec := trace.NewRecorder(path)
			res, err := sim.New(cfg, sim.WithListener(rec)).Run(ctx)
			if err != nil {
				return err
			}
			if dump {
				ctxlog.FromContext(ctx).Info("final scheduler state", "snapshot", res.Final.String())
			}

			if err := rec.Save(); err != nil {
				return err
			}
			digest, err := trace.Digest(rec.Events())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s seed=%d: %d decisions, %d iterations, %d processes\n",
				res.RunID, res.Seed, len(res.Events), res.Iterations, res.Processes)
			fmt.Fprintf(out, "trace %s sha256:%s\n", path, digest)
			return nil
		},
	}
	w.bind(simulateCmd.Flags())
	simulateCmd.Flags().BoolVar(&dump, "dump", false, "log the final scheduler state")
	return simulateCmd
}
