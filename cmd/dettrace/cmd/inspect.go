package cmd

import (
	"fmt"

	"github.com/amirkhaki/dettrace/pkg/sched"
	"github.com/amirkhaki/dettrace/pkg/trace"
	"github.com/spf13/cobra"
)

// newInspectCmd summarises a recorded trace
func newInspectCmd() *cobra.Command {
	var pid int
	var summary bool

	inspectCmd := &cobra.Command{
		Use:   "inspect TRACE",
		Short: "print the decisions recorded in a trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := trace.Load(args[0])
			if err != nil {
				return err
			}
			digest, err := trace.Digest(events)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d decisions, %d processes, sha256:%s\n",
				args[0], len(events), len(trace.Pids(events)), digest)

			counts := trace.CountByKind(events)
			for k := sched.KindSpawn; k <= sched.KindExit; k++ {
				fmt.Fprintf(out, "  %-8s %d\n", k, counts[k])
			}
			if summary {
				return nil
			}

			if cmd.Flags().Changed("pid") {
				events = trace.ByPid(events)[sched.Pid(pid)]
			}
			for _, e := range events {
				if e.Kind == sched.KindExit {
					fmt.Fprintf(out, "%s from=%s\n", e, e.From)
					continue
				}
				fmt.Fprintln(out, e)
			}
			return nil
		},
	}
	inspectCmd.Flags().IntVarP(&pid, "pid", "p", 0, "only list decisions for this pid")
	inspectCmd.Flags().BoolVarP(&summary, "summary", "s", false, "print counts only")
	return inspectCmd
}
