package condense

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/medlens/backend/internal/service/ai/aitest"
)

func newService(t *testing.T, replies ...aitest.Reply) (*Service, *aitest.ChatModel) {
	t.Helper()
	fake := aitest.New(replies...)
	svc, err := NewService(context.Background(), fake)
	require.NoError(t, err)
	return svc, fake
}

func TestCondenseUsesSummaryPrompt(t *testing.T) {
	svc, fake := newService(t, aitest.Text("Take one tablet twice a day."))

	full := `The record {"Medicine":"X"} says take one tablet in the morning and one at night.`
	got := svc.Condense(context.Background(), full)
	assert.Equal(t, "Take one tablet twice a day.", got)

	call := fake.LastCall()
	require.Len(t, call, 2)
	assert.Equal(t, schema.System, call[0].Role)
	assert.Equal(t, summarySystemPrompt, call[0].Content)
	assert.Equal(t, "Summarize the following in 1-2 simple sentences for voice output:\n\n"+full, call[1].Content)
}

func TestCondenseCapsAtThirtyWords(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 45))
	svc, _ := newService(t, aitest.Text(long))

	got := svc.Condense(context.Background(), "anything")
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, strings.Fields(strings.TrimSuffix(got, "...")), MaxWords)
}

func TestCondenseFallsBackOnFailure(t *testing.T) {
	svc, _ := newService(t, aitest.Fail(errors.New("timeout")))

	got := svc.Condense(context.Background(), "Rest well. Drink water. Call a doctor if it worsens.")
	assert.Equal(t, "Rest well. Drink water.", got)
}

func TestCondenseTreatsEmptySummaryAsFailure(t *testing.T) {
	svc, _ := newService(t, aitest.Text("   "))

	got := svc.Condense(context.Background(), "Only one sentence here")
	assert.Equal(t, "Only one sentence here.", got)
}

func TestCondenseWithoutModel(t *testing.T) {
	svc, err := NewService(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, svc.Enabled())
	assert.Equal(t, "A. B.", svc.Condense(context.Background(), "A. B. C. D."))
}

func TestTruncateKeepsShortText(t *testing.T) {
	assert.Equal(t, "short  answer", Truncate("short  answer", MaxWords))
	assert.Equal(t, "a b...", Truncate("a b c", 2))
}

func TestFallbackEdgeCases(t *testing.T) {
	assert.Equal(t, "", Fallback(""))
	assert.Equal(t, "...", Fallback("..."))
	assert.Equal(t, "No period.", Fallback("No period"))
}
