package decision

import (
	"context"

	"babylon/internal/market"

	"github.com/shopspring/decimal"
)

// 中文说明：
// 决策生成：装配每个 NPC 的上下文 → 按 token 预算贪心分批 →
// 每批一次模型调用 → 解析/对齐/结构校验。
// 模型输出视为不可信 oracle，缺失或畸形的条目替换为 hold，
// 结构校验不通过的条目直接丢弃并记录原因。

// NPC 交易参与者档案，来自 roster 文件。
type NPC struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Persona        string `yaml:"persona"`
	TradingEnabled bool   `yaml:"trading_enabled"`
	ReferrerID     string `yaml:"referrer_id"`
}

// WorldContext 外部世界提供方返回的 NPC 社交上下文，内容只读。
type WorldContext struct {
	Profile       string
	Relationships []string
	RecentPosts   []string
	GroupMessages []string
	WorldEvents   []string
}

// WorldProvider 外部协作方：按 NPC id 返回可序列化的世界上下文。
type WorldProvider interface {
	NPCContext(ctx context.Context, npcID string) (WorldContext, error)
}

// NPCContext 单个 NPC 的完整决策上下文。
type NPCContext struct {
	NPC           NPC
	World         WorldContext
	Balance       decimal.Decimal
	PerpPositions []market.PerpPosition
	PredPositions []market.Position
}

// PerpView 市场看板里的一个永续市场。
type PerpView struct {
	Ticker      string
	MarkPrice   decimal.Decimal
	FundingRate decimal.Decimal
	LeverageMin int
	LeverageMax int
	SMA20       float64
	RSI14       float64
	HasSignals  bool
}

// PredictionView 市场看板里的一个预测市场。
type PredictionView struct {
	ID       string
	Question string
	YesPrice decimal.Decimal
}

// Board 所有 NPC 共享的当前市场看板。
type Board struct {
	Perps       []PerpView
	Predictions []PredictionView
}

// Batch 一次模型调用覆盖的 NPC 组。
type Batch struct {
	Contexts        []NPCContext
	EstimatedTokens int
}

// Rejected 结构校验阶段被丢弃的决策及原因。
type Rejected struct {
	NPCID  string
	Action string
	Reason string
}
