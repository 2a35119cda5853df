package provider

import "context"

// ModelProvider 模型调用的最小抽象。输出被视为不可信，由决策层做结构校验。
type ModelProvider interface {
	ID() string
	Enabled() bool
	Call(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
