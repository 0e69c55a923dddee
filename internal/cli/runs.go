package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwzy/loopie/internal/storage"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "查看自动化运行记录",
}

var (
	runsStatus string
	runsLimit  int
	runsSince  time.Duration
)

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出最近的自动化运行",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("打开存储失败: %w", err)
		}
		defer store.Close()

		q := storage.RunQuery{Status: runsStatus, Limit: runsLimit, Desc: true}
		if runsSince > 0 {
			from := time.Now().UTC().Add(-runsSince)
			q.From = &from
		}
		runs, err := store.QueryRuns(ctx, q)
		if err != nil {
			return err
		}
		writeRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "显示一次运行及其步骤",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("打开存储失败: %w", err)
		}
		defer store.Close()

		run, err := store.GetRun(ctx, args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("run %s not found", args[0])
		}
		if err != nil {
			return err
		}
		steps, err := store.ListSteps(ctx, run.RunID)
		if err != nil {
			return err
		}
		writeRunDetail(cmd.OutOrStdout(), run, steps)
		return nil
	},
}

func writeRuns(out io.Writer, runs []storage.AutomationRun) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTATUS\tREASON\tSTEPS\tSTARTED\tGOAL")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.RunID, r.Status, r.Reason, r.Steps, r.StartedAt.Local().Format(time.DateTime), truncate(r.Goal, 48))
	}
	w.Flush()
}

func writeRunDetail(out io.Writer, run *storage.AutomationRun, steps []storage.AutomationStep) {
	fmt.Fprintf(out, "Run:     %s\n", run.RunID)
	fmt.Fprintf(out, "Goal:    %s\n", run.Goal)
	fmt.Fprintf(out, "Status:  %s (%s)\n", run.Status, run.Reason)
	fmt.Fprintf(out, "Started: %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "Took:    %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:   %s\n", run.ErrorMessage)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tKIND\tSTATUS\tDETAIL")
	for _, s := range steps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.StepIndex+1, s.Kind, s.Status, truncate(s.Detail, 64))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "按状态过滤: running/success/stopped")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "最多显示的条数")
	runsListCmd.Flags().DurationVar(&runsSince, "since", 0, "只显示最近这段时间内的运行，例如 24h")
}
