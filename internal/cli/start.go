package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wwwzy/loopie/internal/retention"
	"github.com/wwwzy/loopie/internal/storage"
)

// startCmd 代表 start 命令
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "启动后台数据清理服务",
	Long: `在前台常驻运行 retention 管理器，按配置周期清理过期的自动化运行和对话消息。
chat 会话会自带这一服务；不常开 chat 的机器可以单独运行它。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		// 1. 上下文用于优雅退出
		ctx, cancel := signalContext()
		defer cancel()

		// 2. 初始化存储
		fmt.Fprintln(out, "正在初始化存储...")
		store, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("打开存储失败: %w", err)
		}
		defer store.Close()

		// 3. 初始化管理器并注入采集器
		policy := cfg.Retention
		policy.Enabled = true
		collector, err := retention.NewCollector(store)
		if err != nil {
			return fmt.Errorf("创建 retention 采集器失败: %w", err)
		}
		mgr := retention.NewManager(policy).WithCollector(collector.WithLogger(logger))

		// 4. 启动管理器
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("启动管理器失败: %w", err)
		}
		fmt.Fprintf(out, "Loopie 数据清理已启动（每 %s 一次）。按 Ctrl+C 停止。\n", policy.Interval)

		// 5. 等待信号或管理器异常退出
		done := make(chan error, 1)
		go func() { done <- mgr.Wait() }()

		var runErr error
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "正在关闭...")
			// 6. 优雅停止
			mgr.Stop()
			runErr = <-done
		case runErr = <-done:
		}
		if runErr != nil {
			return fmt.Errorf("管理器停止时发生错误: %w", runErr)
		}
		fmt.Fprintln(out, "关闭完成。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
