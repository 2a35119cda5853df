package decision

import (
	"encoding/json"
	"fmt"

	"babylon/internal/logger"
	"babylon/internal/pkg/jsonutil"
	"babylon/internal/types"
)

// ParseBatch 解析一批的原始模型输出，并对齐到该批的 NPC 列表。
// 返回的切片与 batch 中的 NPC 一一对应：缺失、畸形、或 npc_id 不在批内的
// 条目替换为 hold，整批不会因个别坏条目失败。
// 只有完全找不到 JSON 数组时才返回错误（调用方视为该批失败）。
func ParseBatch(raw string, batch Batch) ([]types.TradingDecision, error) {
	arr, ok := jsonutil.ExtractJSONArray(raw)
	if !ok {
		return nil, fmt.Errorf("no json decision array in model output")
	}
	if err := PrecheckArray(arr); err != nil {
		return nil, err
	}

	// Decode twice: once loosely for per-item schema validation, once into
	// the coercing TradingDecision unmarshaller.
	var loose []any
	if err := json.Unmarshal([]byte(arr), &loose); err != nil {
		return nil, err
	}
	var decoded []types.TradingDecision
	if err := json.Unmarshal([]byte(arr), &decoded); err != nil {
		return nil, err
	}

	byNPC := make(map[string]types.TradingDecision, len(decoded))
	for i := range decoded {
		if i < len(loose) {
			if err := validateItem(loose[i]); err != nil {
				logger.Debugf("decision item #%d failed schema: %v", i+1, err)
				continue
			}
		}
		d := decoded[i]
		if d.NPCID == "" {
			continue
		}
		if _, dup := byNPC[d.NPCID]; dup {
			continue // first decision per NPC wins
		}
		byNPC[d.NPCID] = d
	}

	out := make([]types.TradingDecision, 0, len(batch.Contexts))
	for _, c := range batch.Contexts {
		d, ok := byNPC[c.NPC.ID]
		if !ok {
			logger.Debugf("no decision for npc %s, substituting hold", c.NPC.ID)
			out = append(out, types.Hold(c.NPC.ID))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
