package decision

// PackBatches 贪心分批：按 roster 顺序累加每个 NPC 上下文的估算 token，
// 超过预算即开新批。批大小由上下文体积决定，不是固定值；
// 单个超预算的 NPC 仍然独占一批（决不丢人）。
func PackBatches(contexts []NPCContext, board Board, tokenBudget int) []Batch {
	if tokenBudget <= 0 {
		tokenBudget = 8000
	}
	boardCost := EstimateTokens(RenderUser(board, Batch{})) + EstimateTokens(SystemPrompt())

	var batches []Batch
	var cur Batch
	cur.EstimatedTokens = boardCost

	for _, c := range contexts {
		cost := EstimateTokens(renderNPC(c))
		if len(cur.Contexts) > 0 && cur.EstimatedTokens+cost > tokenBudget {
			batches = append(batches, cur)
			cur = Batch{EstimatedTokens: boardCost}
		}
		cur.Contexts = append(cur.Contexts, c)
		cur.EstimatedTokens += cost
	}
	if len(cur.Contexts) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
