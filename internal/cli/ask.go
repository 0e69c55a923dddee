package cli

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"

	"github.com/wwwzy/loopie/internal/capture"
	"github.com/wwwzy/loopie/internal/ui"
)

var (
	askImage string
	askShot  bool
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "向助手提一个问题",
	Long:  `发送一条消息并打印回复。--image 附带本地 PNG，--shot 附带当前屏幕截图。`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		switch {
		case askImage != "":
			b, err := os.ReadFile(askImage)
			if err != nil {
				return fmt.Errorf("读取图片失败: %w", err)
			}
			if err := capture.ValidatePNG(b); err != nil {
				return fmt.Errorf("%s: %w", askImage, err)
			}
			a.session.State.SetPendingScreenshot(base64.StdEncoding.EncodeToString(b))
		case askShot:
			if err := a.assistant.Screenshot(ctx); err != nil {
				return fmt.Errorf("截图失败: %w", err)
			}
		}

		if err := a.assistant.Handle(ctx, strings.Join(args, " ")); err != nil {
			return err
		}
		printLastReply(cmd, a.session)
		return nil
	},
}

func printLastReply(cmd *cobra.Command, session *ui.Session) {
	msgs := session.Transcript.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == schema.Assistant {
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(msgs[i].Content))
			return
		}
	}
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askImage, "image", "", "附带的 PNG 图片")
	askCmd.Flags().BoolVar(&askShot, "shot", false, "附带当前屏幕截图")
}
