package app

import (
	bbcfg "babylon/internal/config"
	"babylon/internal/executor"
	"babylon/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// WatchTunables 监听主配置文件，变更时热应用可调参数（费率、资金费率）。
// 结构性配置（市场播种、库路径、调度区间）需要重启才会生效。
func (a *App) WatchTunables(path string) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		logger.Warnf("config watch disabled, cannot read %s: %v", path, err)
		return
	}
	v.OnConfigChange(func(fsnotify.Event) {
		// 完整重走 Load：include 合并、默认值、校验，失败保留旧参数
		cfg, err := bbcfg.Load(path)
		if err != nil {
			logger.Warnf("config reload failed, keep previous tunables: %v", err)
			return
		}
		a.applyTunables(cfg)
	})
	v.WatchConfig()
	logger.Infof("watching %s for tunable changes", path)
}

func (a *App) applyTunables(cfg *bbcfg.Config) {
	if a.exec != nil {
		a.exec.SetFees(executor.FeeConfig{
			Rate:          decimal.NewFromFloat(cfg.Fees.Rate),
			MinFee:        decimal.NewFromFloat(cfg.Fees.MinFee),
			ReferrerShare: decimal.NewFromFloat(cfg.Fees.ReferrerShare),
		})
	}
	if a.scheduler != nil {
		a.scheduler.SetFundingRate(decimal.NewFromFloat(cfg.Scheduler.FundingRate))
	}
	logger.Infof("tunables reloaded: fee_rate=%v funding_rate=%v",
		cfg.Fees.Rate, cfg.Scheduler.FundingRate)
}
