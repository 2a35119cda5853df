package decision

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctxWithPersona(id string, personaLen int) NPCContext {
	return NPCContext{NPC: NPC{
		ID:             id,
		Name:           id,
		Persona:        strings.Repeat("x", personaLen),
		TradingEnabled: true,
	}}
}

func TestPackBatches_SingleSmallBatch(t *testing.T) {
	contexts := []NPCContext{
		ctxWithPersona("a", 10),
		ctxWithPersona("b", 10),
		ctxWithPersona("c", 10),
	}
	batches := PackBatches(contexts, Board{}, 8000)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Contexts, 3)
}

func TestPackBatches_SplitsOnBudget(t *testing.T) {
	// 每个 NPC ~500 token，预算摆在两个刚好放不下三个
	contexts := []NPCContext{
		ctxWithPersona("a", 2000),
		ctxWithPersona("b", 2000),
		ctxWithPersona("c", 2000),
	}
	batches := PackBatches(contexts, Board{}, 1200)
	assert.Greater(t, len(batches), 1)

	total := 0
	for _, b := range batches {
		total += len(b.Contexts)
	}
	assert.Equal(t, 3, total, "every npc lands in exactly one batch")
}

func TestPackBatches_OversizeNPCStillShips(t *testing.T) {
	contexts := []NPCContext{ctxWithPersona("whale", 100000)}
	batches := PackBatches(contexts, Board{}, 1000)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Contexts, 1)
}

func TestPackBatches_PreservesRosterOrder(t *testing.T) {
	contexts := []NPCContext{
		ctxWithPersona("a", 3000),
		ctxWithPersona("b", 3000),
		ctxWithPersona("c", 3000),
	}
	batches := PackBatches(contexts, Board{}, 1500)
	var ids []string
	for _, b := range batches {
		for _, c := range b.Contexts {
			ids = append(ids, c.NPC.ID)
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 26, EstimateTokens(strings.Repeat("a", 100)))
}
