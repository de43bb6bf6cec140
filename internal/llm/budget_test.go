package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func turn(role string, n int) Message {
	return Message{Role: role, Content: strings.Repeat("字", n)}
}

func TestContentLength_CountsCharacters(t *testing.T) {
	turns := []Message{
		{Role: RoleUser, Content: "你好"},
		{Role: RoleAssistant, Content: "hi"},
	}
	assert.Equal(t, 4, ContentLength(turns))
}

func TestContentLength_SurrogatePairsCountTwice(t *testing.T) {
	turns := []Message{
		{Role: RoleUser, Content: "好😀"},
		{Role: RoleAssistant, Content: "𠀀"},
	}
	assert.Equal(t, 5, ContentLength(turns))
}

func TestTrimToBudget_EmojiPushesOverBudget(t *testing.T) {
	// 4000 emoji are 4000 runes but 8000 code units; with the trailing
	// turn the total crosses the budget and the oldest pair goes.
	turns := []Message{
		{Role: RoleUser, Content: strings.Repeat("😀", 4000)},
		{Role: RoleAssistant, Content: "ok"},
		{Role: RoleUser, Content: "hi"},
	}
	got := TrimToBudget(turns, DefaultBudget)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Content)
}

func TestTrimToBudget_UnderBudgetUnchanged(t *testing.T) {
	turns := []Message{
		turn(RoleSystem, 100),
		turn(RoleUser, 100),
		turn(RoleAssistant, 100),
		turn(RoleUser, 100),
	}
	got := TrimToBudget(turns, DefaultBudget)
	assert.Equal(t, turns, got)
}

func TestTrimToBudget_DropsOldestPairAfterSystem(t *testing.T) {
	turns := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: strings.Repeat("a", 4000)},
		{Role: RoleAssistant, Content: strings.Repeat("b", 3000)},
		{Role: RoleUser, Content: "older question"},
		{Role: RoleAssistant, Content: "older answer"},
		{Role: RoleUser, Content: strings.Repeat("c", 2000)},
	}

	got := TrimToBudget(turns, DefaultBudget)

	require.Len(t, got, 4)
	assert.Equal(t, RoleSystem, got[0].Role)
	assert.Equal(t, "older question", got[1].Content)
	assert.Equal(t, turns[len(turns)-1], got[len(got)-1], "newest turn must survive")
	assert.LessOrEqual(t, ContentLength(got), DefaultBudget)

	// Input is untouched.
	assert.Len(t, turns, 6)
	assert.Equal(t, RoleUser, turns[1].Role)
}

func TestTrimToBudget_NoSystemDropsFromFront(t *testing.T) {
	turns := []Message{
		turn(RoleUser, 5000),
		turn(RoleAssistant, 5000),
		turn(RoleUser, 10),
	}
	got := TrimToBudget(turns, DefaultBudget)
	require.Len(t, got, 1)
	assert.Equal(t, turns[2], got[0])
}

func TestTrimToBudget_NewestTurnAloneOverBudget(t *testing.T) {
	turns := []Message{
		{Role: RoleSystem, Content: "sys"},
		turn(RoleUser, 10),
		turn(RoleAssistant, 10),
		turn(RoleUser, 9000),
	}
	got := TrimToBudget(turns, DefaultBudget)

	require.Len(t, got, 2)
	assert.Equal(t, RoleSystem, got[0].Role)
	assert.Equal(t, 9000, ContentLength(got[1:]))
}

func TestTrimToBudget_SingleRemovableTurn(t *testing.T) {
	turns := []Message{
		{Role: RoleSystem, Content: "sys"},
		turn(RoleAssistant, 5000),
		turn(RoleUser, 5000),
	}
	got := TrimToBudget(turns, DefaultBudget)
	require.Len(t, got, 2)
	assert.Equal(t, RoleUser, got[1].Role)
}

func TestTrimToBudget_Empty(t *testing.T) {
	assert.Empty(t, TrimToBudget(nil, DefaultBudget))
}

func TestRequestTurns_Order(t *testing.T) {
	req := Request{
		System:  "sys",
		History: []Message{{Role: RoleUser, Content: "q1"}, {Role: RoleAssistant, Content: "a1"}},
		User:    "q2",
	}
	got := req.Turns()
	require.Len(t, got, 4)
	assert.Equal(t, []string{RoleSystem, RoleUser, RoleAssistant, RoleUser},
		[]string{got[0].Role, got[1].Role, got[2].Role, got[3].Role})
	assert.Equal(t, "q2", got[3].Content)

	noSys := Request{User: "only"}.Turns()
	require.Len(t, noSys, 1)
	assert.Equal(t, RoleUser, noSys[0].Role)
}
