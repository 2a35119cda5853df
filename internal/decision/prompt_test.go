package decision

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRenderUser_IncludesWorldProfile(t *testing.T) {
	batch := Batch{Contexts: []NPCContext{{
		NPC:     NPC{ID: "npc-bree", Name: "Bree", Persona: "cautious grain merchant"},
		Balance: decimal.NewFromInt(100),
		World: WorldContext{
			Profile:     "Runs the mill by the river, owes the guild a favor.",
			RecentPosts: []string{"粮价又涨了"},
		},
	}}}

	out := RenderUser(Board{}, batch)
	assert.Contains(t, out, "persona: cautious grain merchant")
	assert.Contains(t, out, "profile: Runs the mill by the river, owes the guild a favor.")
	assert.Contains(t, out, "粮价又涨了")
}

func TestRenderUser_TruncatesLongProfile(t *testing.T) {
	long := strings.Repeat("p", maxFeedItemLen*2)
	batch := Batch{Contexts: []NPCContext{{
		NPC:   NPC{ID: "npc-1", Name: "one"},
		World: WorldContext{Profile: long},
	}}}

	out := RenderUser(Board{}, batch)
	assert.NotContains(t, out, long)
	assert.Contains(t, out, "profile: "+strings.Repeat("p", maxFeedItemLen)+"...")
}
