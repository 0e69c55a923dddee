package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wwwzy/loopie/internal/automation"
)

var autoCmd = &cobra.Command{
	Use:   "auto <goal>",
	Short: "运行一次屏幕自动化",
	Long:  `以给定目标运行 “截图 -> 规划 -> 执行” 循环，直到完成、出错或达到步数上限。Ctrl+C 取消。`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		out := cmd.OutOrStdout()
		sink := automation.SinkFunc(func(line string) {
			fmt.Fprintln(out, line)
		})
		a, err := newApp(ctx, cfg, logger, appOptions{Sink: sink})
		if err != nil {
			return err
		}
		defer a.close()

		if a.controller == nil {
			return errors.New("automation requires capture.command or capture.file")
		}

		goal := strings.Join(args, " ")
		res, err := a.controller.Run(ctx, goal, cfg.Credentials.GeminiKey)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "run %s: %s after %d step(s)\n", res.RunID, res.Reason, res.Steps)
		if !res.Reason.Success() {
			if res.Err != nil {
				return fmt.Errorf("automation %s: %w", res.Reason, res.Err)
			}
			return fmt.Errorf("automation %s", res.Reason)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(autoCmd)
}
