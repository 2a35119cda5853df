package config

import "strings"

// Config 是模拟经济核心的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Database  DatabaseConfig  `toml:"database"`
	Fees      FeesConfig      `toml:"fees"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Decision  DecisionConfig  `toml:"decision"`
	AI        AIConfig        `toml:"ai"`
	Feed      FeedConfig      `toml:"feed"`
	Markets   MarketsConfig   `toml:"markets"`
	NPCs      NPCConfig       `toml:"npcs"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

type DatabaseConfig struct {
	StatePath    string `toml:"state_path"`
	TradeLogPath string `toml:"trade_log_path"`
}

// FeesConfig 交易费模型参数。
type FeesConfig struct {
	Rate          float64 `toml:"rate"`           // 按金额比例
	MinFee        float64 `toml:"min_fee"`        // 单笔下限
	ReferrerShare float64 `toml:"referrer_share"` // 推荐人分成 0~1
}

// SchedulerConfig 调度节奏。区间用 "10s"/"1m"/"8h" 形式。
type SchedulerConfig struct {
	TickInterval         string  `toml:"tick_interval"`
	SyncInterval         string  `toml:"sync_interval"`
	FundingInterval      string  `toml:"funding_interval"`
	FundingRate          float64 `toml:"funding_rate"`
	ShutdownGraceSeconds int     `toml:"shutdown_grace_seconds"`
	RunImmediately       bool    `toml:"run_immediately"`
	// ImpactDepth 净流折算价格位移的深度（USD），MaxImpactPct 单轮位移上限。
	ImpactDepth  float64 `toml:"impact_depth"`
	MaxImpactPct float64 `toml:"max_impact_pct"`
}

type DecisionConfig struct {
	TokenBudget    int  `toml:"token_budget"`
	TimeoutSeconds int  `toml:"timeout_seconds"`
	Parallel       bool `toml:"parallel"`
}

// AIConfig 包含与模型相关的所有设置。
type AIConfig struct {
	Models []AIModelConfig `toml:"models"`
}

// AIModelConfig 代表一个可用的决策模型条目。第一个 enabled 的模型生效。
type AIModelConfig struct {
	ID             string  `toml:"id"`
	Enabled        bool    `toml:"enabled"`
	APIURL         string  `toml:"api_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// FeedConfig 行情来源。source 可选 "random" 或 "binance"。
type FeedConfig struct {
	Source     string            `toml:"source"`
	Seed       int64             `toml:"seed"`
	StepPct    float64           `toml:"step_pct"`
	HistoryMax int               `toml:"history_max"`
	APIKey     string            `toml:"api_key"`
	APISecret  string            `toml:"api_secret"`
	SymbolMap  map[string]string `toml:"symbol_map"` // ticker -> exchange symbol
}

// MarketsConfig 启动时播种的市场与余额。
type MarketsConfig struct {
	InitialBalance float64          `toml:"initial_balance"`
	Perps          []PerpSeed       `toml:"perps"`
	Predictions    []PredictionSeed `toml:"predictions"`
}

type PerpSeed struct {
	Ticker                string  `toml:"ticker"`
	InitialPrice          float64 `toml:"initial_price"`
	MaxLeverage           int     `toml:"max_leverage"`
	MaintenanceMarginRate float64 `toml:"maintenance_margin_rate"`
}

type PredictionSeed struct {
	ID        string  `toml:"id"`
	Question  string  `toml:"question"`
	YesShares float64 `toml:"yes_shares"`
	NoShares  float64 `toml:"no_shares"`
}

type NPCConfig struct {
	RosterPath string `toml:"roster_path"`
}

// keySet 记录配置文件中显式设置过的键，用于区分“未设置”与“设为零值”。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
