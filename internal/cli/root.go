package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wwwzy/loopie/internal/config"
	"github.com/wwwzy/loopie/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "loopie",
	Short: "Loopie 是一个带屏幕自动化的桌面助手",
	Long: `Loopie 提供聊天式助手：普通问答、截图问答、语音转写，
以及通过 /do <goal> 驱动的 “截图 -> 规划 -> 执行” 自动化循环。`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		observability.Sync()
	},
}

// Execute 将所有子命令添加到根命令并适当设置标志。
// 这由 main.main() 调用。它只需要对 rootCmd 调用一次。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.loopie/config.yaml 搜索）")
}

// initConfig 读取配置文件和环境变量，并初始化日志。
func initConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	logCfg := cfg.Log
	// TUI 占用整个终端，日志只写文件
	if cmd.Name() == "chat" && chatUI == "tui" {
		logCfg.Quiet = true
	}
	logger = observability.InitializeLogger(logCfg)
	logger.Debug("config loaded",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("ask_provider", cfg.Ask.Provider),
		zap.String("storage", cfg.Storage.Path),
	)
	return nil
}

// signalContext 在收到 SIGINT/SIGTERM 时取消。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
