package retention

import "time"

type ErrorHandler func(err error)

type Config struct {
	// Enabled 控制后台清理是否启用。
	Enabled bool `mapstructure:"enabled"`

	// Interval 为清理周期。
	Interval time.Duration `mapstructure:"interval"`
	// Workers 为并发执行清理任务的数量。
	Workers int `mapstructure:"workers"`
	// BatchRows 为单次删除的最大行数；分批删除避免长时间锁库。
	BatchRows int `mapstructure:"batch_rows"`
	// IdleSleep 为两批删除之间的休眠时间。
	IdleSleep time.Duration `mapstructure:"idle_sleep"`

	// RunsKeep 为自动化运行（含步骤）的保留时长；<=0 表示不清理。
	RunsKeep time.Duration `mapstructure:"runs_keep"`
	// MessagesKeep 为对话消息的保留时长；<=0 表示不清理。
	MessagesKeep time.Duration `mapstructure:"messages_keep"`

	// OnError 为异步错误回调；默认丢弃。
	OnError ErrorHandler `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Interval:     time.Hour,
		Workers:      2,
		BatchRows:    500,
		IdleSleep:    50 * time.Millisecond,
		RunsKeep:     30 * 24 * time.Hour,
		MessagesKeep: 7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.BatchRows <= 0 {
		c.BatchRows = 500
	}
	if c.IdleSleep < 0 {
		c.IdleSleep = 0
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}
