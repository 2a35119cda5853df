package config

import "strings"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogPath      = "/data/logs/babylon.log"
	defaultAppLLMLogPath   = "/data/logs/babylon-llm.log"
	defaultStatePath       = "/data/db/babylon.db"
	defaultTradeLogPath    = "/data/db/trades.db"
	defaultFeeRate         = 0.001
	defaultTickInterval    = "1m"
	defaultSyncInterval    = "10s"
	defaultFundingInterval = "8h"
	defaultFundingRate     = 0.0001
	defaultShutdownGrace   = 15
	defaultImpactDepth     = 100000
	defaultMaxImpactPct    = 0.01
	defaultTokenBudget     = 8000
	defaultDecisionTimeout = 120
	defaultFeedSource      = "random"
	defaultFeedStepPct     = 0.02
	defaultFeedHistoryMax  = 200
	defaultInitialBalance  = 1000
	defaultMaxLeverage     = 20
	defaultMMR             = 0.005
	defaultRosterPath      = "configs/npcs.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Fees.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Decision.applyDefaults(keys)
	c.Feed.applyDefaults(keys)
	c.Markets.applyDefaults(keys)
	c.NPCs.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("database.state_path", &d.StatePath, defaultStatePath),
		stringFieldDefault("database.trade_log_path", &d.TradeLogPath, defaultTradeLogPath),
	)
}

func (f *FeesConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("fees.rate", &f.Rate, defaultFeeRate),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("scheduler.tick_interval", &s.TickInterval, defaultTickInterval),
		stringFieldDefault("scheduler.sync_interval", &s.SyncInterval, defaultSyncInterval),
		stringFieldDefault("scheduler.funding_interval", &s.FundingInterval, defaultFundingInterval),
		floatFieldDefault("scheduler.funding_rate", &s.FundingRate, defaultFundingRate),
		intFieldDefault("scheduler.shutdown_grace_seconds", &s.ShutdownGraceSeconds, defaultShutdownGrace),
		floatFieldDefault("scheduler.impact_depth", &s.ImpactDepth, defaultImpactDepth),
		floatFieldDefault("scheduler.max_impact_pct", &s.MaxImpactPct, defaultMaxImpactPct),
	)
}

func (d *DecisionConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("decision.token_budget", &d.TokenBudget, defaultTokenBudget),
		intFieldDefault("decision.timeout_seconds", &d.TimeoutSeconds, defaultDecisionTimeout),
	)
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("feed.source", &f.Source, defaultFeedSource),
		floatFieldDefault("feed.step_pct", &f.StepPct, defaultFeedStepPct),
		intFieldDefault("feed.history_max", &f.HistoryMax, defaultFeedHistoryMax),
	)
}

func (m *MarketsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("markets.initial_balance", &m.InitialBalance, defaultInitialBalance),
	)
	for i := range m.Perps {
		if m.Perps[i].MaxLeverage <= 0 {
			m.Perps[i].MaxLeverage = defaultMaxLeverage
		}
		if m.Perps[i].MaintenanceMarginRate <= 0 {
			m.Perps[i].MaintenanceMarginRate = defaultMMR
		}
	}
}

func (n *NPCConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("npcs.roster_path", &n.RosterPath, defaultRosterPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
