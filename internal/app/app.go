package app

import (
	"context"
	"fmt"
	"time"

	bbcfg "babylon/internal/config"
	cfgloader "babylon/internal/config/loader"
	"babylon/internal/executor"
	"babylon/internal/logger"
	"babylon/internal/market"
	"babylon/internal/scheduler"
	"babylon/internal/store/sqlite"
	"babylon/internal/store/tradelog"
)

// App 负责应用级编排：加载配置→初始化依赖→驱动调度循环。
type App struct {
	cfg        *bbcfg.Config
	market     *market.Store
	stateStore *sqlite.SqliteStore
	trades     *tradelog.Store
	roster     *cfgloader.RosterLoader
	exec       *executor.Executor
	scheduler  *scheduler.Scheduler
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(ctx context.Context, cfg *bbcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewAppBuilder(cfg).Build(ctx)
}

// Run 启动调度循环并阻塞到 ctx 取消，随后有序停机（含强制刷盘）。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.scheduler == nil {
		return fmt.Errorf("app not initialized")
	}
	a.scheduler.Start(ctx)
	<-ctx.Done()
	a.Close()
	return nil
}

// Close 停机：先停调度（内部做最终刷盘），再关闭外设。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.roster != nil {
		_ = a.roster.Close()
	}
	if a.trades != nil {
		_ = a.trades.Close()
	}
	if a.stateStore != nil {
		_ = a.stateStore.Close()
	}
	logger.Infof("app closed")
}

// Market exposes the in-memory state store (for tests and tooling).
func (a *App) Market() *market.Store { return a.market }

func secondsDuration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
