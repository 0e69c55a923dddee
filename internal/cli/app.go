package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wwwzy/loopie/internal/assistant"
	"github.com/wwwzy/loopie/internal/automation"
	"github.com/wwwzy/loopie/internal/backend"
	"github.com/wwwzy/loopie/internal/capture"
	"github.com/wwwzy/loopie/internal/config"
	"github.com/wwwzy/loopie/internal/retention"
	"github.com/wwwzy/loopie/internal/storage"
	"github.com/wwwzy/loopie/internal/transcribe"
	"github.com/wwwzy/loopie/internal/ui"
)

// app 持有一次命令执行所需的全部组件。
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store      *storage.Storage
	client     *backend.Client
	session    *ui.Session
	capture    *capture.Helper
	controller *automation.Controller
	assistant  *assistant.Assistant
	retention  *retention.Manager
}

// appOptions 控制哪些组件需要创建。
type appOptions struct {
	// Sink 为自动化进度输出；为空时写入会话的 Transcript。
	Sink automation.Sink
	// Retention 为 true 时在后台运行数据清理。
	Retention bool
}

func newApp(ctx context.Context, c *config.Config, log *zap.Logger, opts appOptions) (*app, error) {
	if c == nil {
		return nil, errors.New("config not loaded")
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &app{cfg: c, logger: log, session: ui.NewSession()}

	// 1. 存储
	store, err := storage.Open(ctx, c.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}
	a.store = store
	a.session.Transcript.WithStore(store, a.session.ID).WithLogger(log)

	// 2. 后端客户端
	a.client, err = backend.NewClient(c.Backend)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("创建后端客户端失败: %w", err)
	}
	a.client.WithLogger(log)

	// 3. 截图；没有截图来源时自动化与截图问答不可用
	grabber, err := capture.NewGrabber(c.Capture)
	switch {
	case errors.Is(err, capture.ErrNoCaptureSource):
		log.Warn("no capture source configured; screenshots and automation disabled")
	case err != nil:
		a.close()
		return nil, fmt.Errorf("创建截图器失败: %w", err)
	default:
		a.capture = capture.NewHelper(a.session.State.Window(), grabber).WithLogger(log)
	}

	// 4. 自动化控制器
	if a.capture != nil {
		sink := opts.Sink
		if sink == nil {
			sink = a.session.Transcript
		}
		a.controller, err = automation.NewController(c.Automation, a.capture, a.client, a.client, sink)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("创建自动化控制器失败: %w", err)
		}
		a.controller.WithRecorder(automation.NewStoreRecorder(store)).WithLogger(log)
	}

	// 5. 助手
	deps := assistant.Deps{
		Analyser:    a.client,
		Transcriber: transcribe.NewClient(c.Transcribe, c.Credentials.GroqKey).WithLogger(log),
	}
	if a.controller != nil {
		deps.Automator = a.controller
	}
	if a.capture != nil {
		deps.Capturer = a.capture
	}
	switch c.Ask.Provider {
	case config.ProviderArk:
		cm, err := assistant.NewArkChatModel(ctx, c.Ark)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("创建 Ark 模型失败: %w", err)
		}
		asker, err := assistant.NewModelAsker(ctx, cm, a.session.Transcript)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("创建 Ark 问答失败: %w", err)
		}
		deps.Asker = asker
	default:
		deps.Asker = a.client
	}
	a.assistant, err = assistant.New(a.session, deps, c.Credentials)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("创建助手失败: %w", err)
	}
	a.assistant.WithLogger(log)

	// 6. 后台数据清理
	if opts.Retention && c.Retention.Enabled {
		collector, err := retention.NewCollector(store)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("创建 retention 采集器失败: %w", err)
		}
		a.retention = retention.NewManager(c.Retention).WithCollector(collector.WithLogger(log))
		if err := a.retention.Start(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("启动数据清理失败: %w", err)
		}
	}

	return a, nil
}

func (a *app) close() {
	if a == nil {
		return
	}
	if a.controller != nil {
		a.controller.Cancel()
	}
	if a.retention != nil {
		a.retention.Stop()
		if err := a.retention.Wait(); err != nil {
			a.logger.Warn("retention stopped with error", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close storage failed", zap.Error(err))
		}
	}
}
