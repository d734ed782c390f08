package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/simlane/timeline/scheduling"
	"github.com/simlane/timeline/tracing"
)

var traceCmd = &cobra.Command{
	Use:   "trace FILE",
	Short: "List the element tasks recorded in a trace file.",
	Args:  cobra.ExactArgs(1),
	RunE:  listTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)

	f := traceCmd.Flags()
	f.String("kind", "", "Only tasks of this element type")
	f.String("handle", "", "Only tasks of this handle")
	f.String("state", "", "Only tasks that ended in this state")
	f.Int64("from", -1, "Only tasks still running at or after this time")
	f.Int64("to", -1, "Only tasks started at or before this time")
	f.Int("limit", 50, "Maximum number of tasks, 0 for all")
	f.Int("offset", 0, "Number of tasks to skip")
}

func listTrace(cmd *cobra.Command, args []string) error {

	f := cmd.Flags()
	q := tracing.TaskQuery{}
	q.Kind, _ = f.GetString("kind")
	q.HandleID, _ = f.GetString("handle")
	q.State, _ = f.GetString("state")
	q.Limit, _ = f.GetInt("limit")
	q.Offset, _ = f.GetInt("offset")

	from, _ := f.GetInt64("from")
	to, _ := f.GetInt64("to")
	if from >= 0 || to >= 0 {
		q.EnableTimeRange = true
		q.StartTime = scheduling.Time(max(from, 0))
		q.EndTime = scheduling.Never
		if to >= 0 {
			q.EndTime = scheduling.Time(to)
		}
	}

	reader, err := tracing.OpenTraceReader(args[0])
	if err != nil {
		return err
	}
	defer reader.Close()

	tasks, total, err := reader.ListTasks(cmd.Context(), q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPARENT\tKIND\tWHAT\tWHERE\tSTART\tEND\tSTATE\tERROR")
	for _, t := range tasks {
		errText := ""
		if t.Err != nil {
			errText = t.Err.Error()
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			t.ID, t.ParentID, t.Kind, t.What, t.Where,
			t.StartTime, t.EndTime, t.State, errText)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d tasks\n", len(tasks), total)

	return nil
}
