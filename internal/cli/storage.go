package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wwwzy/loopie/internal/retention"
	"github.com/wwwzy/loopie/internal/storage"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况、清理自动化运行记录和对话消息的命令。`,
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

var (
	pruneRunsDays     int
	pruneMessagesDays int
)

// pruneCmd represents the prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "立即执行一次数据清理",
	Long: `忽略定时任务间隔，立即按 retention 配置清理过期的自动化运行（含步骤）和对话消息。
--runs-days / --messages-days 可临时覆盖配置中的保留时长。`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd)
	storageCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().IntVar(&pruneRunsDays, "runs-days", 0, "保留最近 N 天的自动化运行")
	pruneCmd.Flags().IntVar(&pruneMessagesDays, "messages-days", 0, "保留最近 N 天的对话消息")
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	policy := cfg.Retention
	if pruneRunsDays > 0 {
		policy.RunsKeep = time.Duration(pruneRunsDays) * 24 * time.Hour
	}
	if pruneMessagesDays > 0 {
		policy.MessagesKeep = time.Duration(pruneMessagesDays) * 24 * time.Hour
	}

	fmt.Fprintln(out, "Opening database...")
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer store.Close()

	fmt.Fprintf(out, "Policy: runs keep=%s, messages keep=%s\n", policy.RunsKeep, policy.MessagesKeep)
	st, err := retention.Prune(ctx, store, policy)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	fmt.Fprintf(out, "Prune completed. Deleted %d run(s), %d message(s).\n", st.Runs, st.Messages)

	writeCounts(ctx, out, store)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	// 1. 获取数据库文件信息
	var dbSizeStr string
	if cfg.Storage.InMemory {
		dbSizeStr = "in-memory"
	} else {
		dbPath := cfg.Storage.Path
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
		info, err := os.Stat(dbPath)
		switch {
		case os.IsNotExist(err):
			dbSizeStr = "Not Found (Will be created on first run)"
		case err != nil:
			dbSizeStr = fmt.Sprintf("Error: %v", err)
		default:
			dbSizeStr = fmt.Sprintf("%.2f MB (%s)", float64(info.Size())/1024/1024, dbPath)
		}
	}

	// 2. 连接数据库
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(out, "Database File: %s\n", dbSizeStr)
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer store.Close()

	// 3. 格式化输出
	fmt.Fprintf(out, "Database File: %s\n\n", dbSizeStr)
	writeCounts(ctx, out, store)
	return nil
}

func writeCounts(ctx context.Context, out io.Writer, store *storage.Storage) {
	counts := []struct {
		table string
		fn    func(context.Context) (int64, error)
	}{
		{"AutomationRuns", store.CountRuns},
		{"AutomationSteps", store.CountSteps},
		{"TranscriptMessages", store.CountMessages},
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	for _, c := range counts {
		n, err := c.fn(ctx)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", c.table, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", c.table, n)
	}
	w.Flush()
}
