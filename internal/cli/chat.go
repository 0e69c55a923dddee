package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wwwzy/loopie/internal/tui"
	"github.com/wwwzy/loopie/internal/ui"
)

var (
	chatUI         string
	chatShowSystem bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "进入交互式对话模式",
	Long: `进入对话模式。普通消息发送给助手；/shot 截图后随下一条消息提问；
/do <goal> 启动屏幕自动化，/stop 取消；/listen <file.wav> 转写录音。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		a, err := newApp(ctx, cfg, logger, appOptions{Retention: true})
		if err != nil {
			return err
		}
		defer a.close()

		return uiImpl.Run(ctx, a.assistant, a.session, ui.ChatOptions{ShowSystem: chatShowSystem})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().BoolVar(&chatShowSystem, "show-system", true, "显示自动化进度")
}
