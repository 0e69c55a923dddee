package cli

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wwwzy/loopie/internal/capture"
)

var (
	captureOut     string
	captureDataURL bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "按配置截取一次屏幕",
	Long:  `使用 capture 配置截屏。指定 --out 时写入 PNG 文件，否则输出 base64；--data-url 输出可直接在浏览器打开的 data URL。`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		grabber, err := capture.NewGrabber(cfg.Capture)
		if err != nil {
			return err
		}
		// 命令行下没有需要隐藏的窗口
		img, err := capture.NewHelper(nil, grabber).WithLogger(logger).CapturePNG(ctx)
		if err != nil {
			return err
		}

		if captureOut == "" {
			b64 := base64.StdEncoding.EncodeToString(img)
			if captureDataURL {
				b64 = capture.DataURL(b64)
			}
			fmt.Fprintln(cmd.OutOrStdout(), b64)
			return nil
		}
		if err := os.WriteFile(captureOut, img, 0o644); err != nil {
			return fmt.Errorf("写入截图失败: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(img), captureOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "", "输出 PNG 文件")
	captureCmd.Flags().BoolVar(&captureDataURL, "data-url", false, "以 data URL 形式输出")
}
