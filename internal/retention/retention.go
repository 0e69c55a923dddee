package retention

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wwwzy/loopie/internal/storage"
)

// Store 是清理所需的存储操作，由 storage.Storage 实现。
type Store interface {
	DeleteRunsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteMessagesBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
}

var _ Store = (*storage.Storage)(nil)

// Stats 汇总一次清理删除的行数。
type Stats struct {
	Runs     int64
	Messages int64
}

type Collector struct {
	cfg    Config
	store  Store
	logger *zap.Logger
}

func NewCollector(store Store) (*Collector, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &Collector{store: store, cfg: Config{}.withDefaults(), logger: zap.NewNop()}, nil
}

func (c *Collector) WithLogger(l *zap.Logger) *Collector {
	if l != nil {
		c.logger = l.Named("retention")
	}
	return c
}

// Prune 按 cfg 执行一次清理，供命令行直接调用。
func Prune(ctx context.Context, store Store, cfg Config) (Stats, error) {
	c, err := NewCollector(store)
	if err != nil {
		return Stats{}, err
	}
	c.cfg = cfg.withDefaults()
	return c.RunOnce(ctx, time.Now().UTC())
}

func (c *Collector) Run(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}
	c.cfg = c.cfg.withDefaults()

	if _, err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// RunOnce 以 now 为基准删除过期数据，各类数据的清理任务并发执行。
func (c *Collector) RunOnce(ctx context.Context, now time.Time) (Stats, error) {
	if c == nil || c.store == nil {
		return Stats{}, errors.New("retention collector not initialized")
	}

	var st Stats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	if c.cfg.RunsKeep > 0 {
		cut := now.Add(-c.cfg.RunsKeep)
		g.Go(func() error {
			n, err := c.drain(gctx, func(ctx context.Context) (int64, error) {
				return c.store.DeleteRunsBeforeLimited(ctx, cut, c.cfg.BatchRows)
			})
			st.Runs = n
			return err
		})
	}
	if c.cfg.MessagesKeep > 0 {
		cut := now.Add(-c.cfg.MessagesKeep)
		g.Go(func() error {
			n, err := c.drain(gctx, func(ctx context.Context) (int64, error) {
				return c.store.DeleteMessagesBeforeLimited(ctx, cut, c.cfg.BatchRows)
			})
			st.Messages = n
			return err
		})
	}

	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.cfg.OnError(err)
			c.logger.Warn("retention prune failed", zap.Error(err))
		}
		return st, err
	}
	if st.Runs > 0 || st.Messages > 0 {
		c.logger.Info("retention pruned", zap.Int64("runs", st.Runs), zap.Int64("messages", st.Messages))
	}
	return st, nil
}

// drain 反复分批删除直到没有可删数据。
func (c *Collector) drain(ctx context.Context, del func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		affected, err := del(ctx)
		if err != nil {
			return total, err
		}
		total += affected
		if affected == 0 {
			return total, nil
		}
		if err := c.sleepIdle(ctx); err != nil {
			return total, err
		}
	}
}

func (c *Collector) sleepIdle(ctx context.Context) error {
	if c.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
