package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/wwwzy/loopie/internal/transcribe"
)

var transcribeJSON bool

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "转写一段录音",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("打开录音失败: %w", err)
		}
		defer f.Close()

		client := transcribe.NewClient(cfg.Transcribe, cfg.Credentials.GroqKey).WithLogger(logger)
		res, err := client.Transcribe(ctx, f, filepath.Base(args[0]))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if transcribeJSON {
			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Fprintln(out, strings.TrimSpace(res.Text))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(transcribeCmd)
	transcribeCmd.Flags().BoolVar(&transcribeJSON, "json", false, "输出包含分段信息的 JSON")
}
