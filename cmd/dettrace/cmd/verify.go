package cmd

import (
	"fmt"
	"strconv"

	"github.com/amirkhaki/dettrace/pkg/sim"
	"github.com/amirkhaki/dettrace/pkg/trace"
	"github.com/amirkhaki/dettrace/pkg/tracing"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// newVerifyCmd re-runs a workload and checks it against a recorded trace
func newVerifyCmd() *cobra.Command {
	var w workloadFlags

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "re-run a workload and fail if any scheduling decision differs from the trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := w.load(cmd.Flags())
			if err != nil {
				return err
			}
			path := w.tracePath()
			expected, err := trace.Load(path)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer w.startTracing(ctx)()

			ctx, span := tracing.StartSpan(ctx, "verify")
			span.WithAttributes(map[string]string{"trace.file": path})

			v := trace.NewVerifier(expected)
			if _, err := sim.New(cfg, sim.WithListener(v)).Run(ctx); err != nil {
				tracing.EndSpan(span, err)
				return err
			}
			err = v.Finish()
			span.SetInt("verify.matched", int64(v.Matched()))
			var de *trace.DivergenceError
			if errors.As(err, &de) {
				span.AddEvent("diverged", divergenceAttrs(de))
			}
			tracing.EndSpan(span, err)
			if err != nil {
				return errors.Wrapf(err, "run diverged from %s", path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trace %s verified: %d decisions match\n", path, v.Matched())
			return nil
		},
	}
	w.bind(verifyCmd.Flags())
	return verifyCmd
}

func divergenceAttrs(de *trace.DivergenceError) map[string]string {
	attrs := map[string]string{"index": strconv.Itoa(de.Index)}
	if de.Expected != nil {
		attrs["expected"] = de.Expected.String()
	}
	if de.Actual != nil {
		attrs["actual"] = de.Actual.String()
	}
	return attrs
}
