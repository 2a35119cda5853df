package decision

import (
	"fmt"
	"strings"

	"babylon/internal/pkg/text"
)

// 单条社交内容放进提示词前的长度上限，防止个别长帖吃光 token 预算。
const maxFeedItemLen = 280

const systemPrompt = `You are the trading brain for a simulated economy. For EACH npc listed in
the user message you must output exactly one decision object.

Rules:
- Output a single JSON array, nothing else. One object per npc, in the same
  order the npcs are listed.
- Each object: {"npc_id", "action", "ticker", "market_id", "amount",
  "leverage", "position_id", "confidence", "reasoning"}.
- action is one of: open_long, open_short, buy_yes, buy_no, close_position, hold.
- open_long/open_short need ticker, amount (USD notional) and leverage.
- buy_yes/buy_no need market_id and amount (USD).
- close_position needs position_id (perp) or market_id (prediction).
- amount must never exceed the npc's balance.
- Stay in character: each npc trades according to its persona and what it has
  seen in its feed.`

// SystemPrompt returns the fixed instruction block.
func SystemPrompt() string { return systemPrompt }

// RenderUser 渲染一批的用户提示词：共享市场看板 + 每个 NPC 的上下文小节。
func RenderUser(board Board, batch Batch) string {
	var b strings.Builder

	b.WriteString("## Markets\n\n### Perpetual futures\n")
	for _, p := range board.Perps {
		fmt.Fprintf(&b, "- %s mark=%s funding_rate=%s leverage=%d..%d",
			p.Ticker, p.MarkPrice, p.FundingRate, p.LeverageMin, p.LeverageMax)
		if p.HasSignals {
			fmt.Fprintf(&b, " sma20=%.2f rsi14=%.1f", p.SMA20, p.RSI14)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n### Prediction markets\n")
	for _, p := range board.Predictions {
		fmt.Fprintf(&b, "- [%s] %q yes_price=%s\n", p.ID, p.Question, p.YesPrice)
	}

	b.WriteString("\n## NPCs\n")
	for _, c := range batch.Contexts {
		b.WriteString("\n")
		b.WriteString(renderNPC(c))
	}

	fmt.Fprintf(&b, "\nReturn a JSON array with exactly %d decision objects.\n", len(batch.Contexts))
	return b.String()
}

func renderNPC(c NPCContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### npc_id=%s (%s)\n", c.NPC.ID, c.NPC.Name)
	if c.NPC.Persona != "" {
		fmt.Fprintf(&b, "persona: %s\n", c.NPC.Persona)
	}
	if c.World.Profile != "" {
		fmt.Fprintf(&b, "profile: %s\n", text.Truncate(c.World.Profile, maxFeedItemLen))
	}
	fmt.Fprintf(&b, "balance: %s USD\n", c.Balance)

	writeList(&b, "relationships", c.World.Relationships)
	writeList(&b, "recent posts", c.World.RecentPosts)
	writeList(&b, "group messages", c.World.GroupMessages)
	writeList(&b, "world events", c.World.WorldEvents)

	if len(c.PerpPositions) > 0 {
		b.WriteString("open perp positions:\n")
		for _, p := range c.PerpPositions {
			fmt.Fprintf(&b, "- position_id=%s %s %s size=%s lev=%d entry=%s mark=%s upnl=%s\n",
				p.ID, p.Ticker, p.Side, p.Size, p.Leverage, p.EntryPrice, p.CurrentPrice, p.UnrealizedPnL)
		}
	}
	if len(c.PredPositions) > 0 {
		b.WriteString("prediction positions:\n")
		for _, p := range c.PredPositions {
			fmt.Fprintf(&b, "- market_id=%s yes=%s no=%s spent=%s\n",
				p.MarketID, p.YesShares, p.NoShares, p.TotalSpent)
		}
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString(":\n")
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(text.Truncate(it, maxFeedItemLen))
		b.WriteString("\n")
	}
}

// EstimateTokens 粗略估算：约 4 字符一个 token。够用于分批预算，
// 不追求与具体模型的分词一致。
func EstimateTokens(s string) int {
	return len(s)/4 + 1
}
