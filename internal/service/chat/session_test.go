package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/medlens/backend/internal/model/analysis"
	"github.com/zhouzirui/medlens/backend/internal/model/chat"
	"github.com/zhouzirui/medlens/backend/internal/service/ai/aitest"
)

type upperCondenser struct{ calls int }

func (c *upperCondenser) Condense(_ context.Context, full string) string {
	c.calls++
	return strings.ToUpper(full)
}

func TestHistoryWindowIsBoundedAndOrdered(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 11; i++ {
		h.Append(chat.Turn{Role: chat.RoleUser, Content: fmt.Sprintf("t%d", i)})
	}

	window := h.Window()
	require.Len(t, window, WindowSize)
	for i, turn := range window {
		assert.Equal(t, fmt.Sprintf("t%d", i+5), turn.Content)
	}
	assert.Equal(t, 11, h.Len())

	window[0].Content = "mutated"
	assert.Equal(t, "t5", h.Window()[0].Content)
}

func TestHistoryWindowShorterThanLimit(t *testing.T) {
	h := NewHistory()
	h.Append(chat.Turn{Role: chat.RoleUser, Content: "only"})
	assert.Len(t, h.Window(), 1)

	h.Reset()
	assert.Empty(t, h.Window())
	assert.Zero(t, h.Len())
}

func TestSubmitStoresFullAndReturnsConcise(t *testing.T) {
	fake := aitest.New(aitest.Text("Take it after meals."))
	cond := &upperCondenser{}
	s := NewSession("s1", fake, cond)

	resp := s.Submit(context.Background(), "  When should I take X?  ")
	assert.Equal(t, "Take it after meals.", resp.Full)
	assert.Equal(t, "TAKE IT AFTER MEALS.", resp.Concise)
	assert.False(t, resp.Failed)

	turns := s.History().Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, chat.Turn{Role: chat.RoleUser, Content: "When should I take X?"}, turns[0])
	assert.Equal(t, chat.Turn{Role: chat.RoleAssistant, Content: "Take it after meals."}, turns[1])
}

func TestSubmitPromptLayoutWithoutContext(t *testing.T) {
	fake := aitest.New(aitest.Text("ok"))
	s := NewSession("s1", fake, nil)

	s.Submit(context.Background(), "hello")

	call := fake.LastCall()
	require.Len(t, call, 3)
	assert.Equal(t, schema.System, call[0].Role)
	assert.Equal(t, brevityInstruction, call[0].Content)
	assert.Equal(t, schema.User, call[1].Role)
	assert.Equal(t, "hello", call[1].Content)
	assert.Equal(t, brevityReminder, call[2].Content)
}

func TestSubmitWithDiagnosticContextIncludesWindowAndGrounding(t *testing.T) {
	replies := make([]aitest.Reply, 0, 5)
	for i := 0; i < 5; i++ {
		replies = append(replies, aitest.Text(fmt.Sprintf("answer %d", i)))
	}
	fake := aitest.New(replies...)
	s := NewSession("s1", fake, nil)

	for i := 0; i < 4; i++ {
		s.Submit(context.Background(), fmt.Sprintf("question %d", i))
	}
	s.SetContext(analysis.NewDiagnostic(analysis.Diagnostic{PredictedCondition: "Pneumonia", Confidence: "85%"}))

	s.Submit(context.Background(), "What does this mean?")

	call := fake.LastCall()
	// instruction + 6 window turns + grounding + reminder
	require.Len(t, call, 9)
	assert.Equal(t, brevityInstruction, call[0].Content)

	window := call[1:7]
	assert.Equal(t, "answer 1", window[0].Content)
	assert.Equal(t, "question 2", window[1].Content)
	assert.Equal(t, "answer 3", window[4].Content)
	assert.Equal(t, "What does this mean?", window[5].Content)
	assert.Equal(t, schema.User, window[5].Role)

	grounding := call[7]
	assert.Equal(t, schema.System, grounding.Role)
	assert.True(t, strings.HasPrefix(grounding.Content, "Based on the analysis results: {"))
	assert.Contains(t, grounding.Content, `"Predicted_Disease": "Pneumonia"`)
	assert.True(t, strings.HasSuffix(grounding.Content, "please provide a concise response to: What does this mean?"))

	assert.Equal(t, brevityReminder, call[8].Content)
}

func TestSubmitFailureAppendsApology(t *testing.T) {
	fake := aitest.New(aitest.Fail(errors.New("connection reset")), aitest.Text("fine now"))
	cond := &upperCondenser{}
	s := NewSession("s1", fake, cond)

	resp := s.Submit(context.Background(), "first")
	assert.Equal(t, chat.QueryResponse{Full: ApologyMessage, Concise: ApologyMessage, Failed: true}, resp)
	assert.Zero(t, cond.calls)

	turns := s.History().Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, ApologyMessage, turns[1].Content)
	assert.Equal(t, chat.RoleAssistant, turns[1].Role)

	s.Submit(context.Background(), "again")
	retry := fake.LastCall()
	assert.Equal(t, ApologyMessage, retry[2].Content)
	assert.Equal(t, "again", retry[3].Content)
}

func TestSubmitWithoutModelApologises(t *testing.T) {
	s := NewSession("s1", nil, nil)
	resp := s.Submit(context.Background(), "hi")
	assert.True(t, resp.Failed)
	assert.Equal(t, 2, s.History().Len())
}

func TestResetKeepsContext(t *testing.T) {
	fake := aitest.New(aitest.Text("a"))
	s := NewSession("s1", fake, nil)
	s.SetContext(analysis.NewPrescription(analysis.Prescription{Date: "2024-01-01"}))
	s.Submit(context.Background(), "q")

	s.Reset()
	assert.Zero(t, s.History().Len())
	require.NotNil(t, s.Context())
	assert.Equal(t, analysis.KindPrescription, s.Context().Kind)

	s.ClearContext()
	assert.Nil(t, s.Context())
	assert.False(t, s.Info().HasContext)
}

func TestServiceRegistry(t *testing.T) {
	svc, err := NewService(aitest.New(), nil, 2)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	got, err := svc.GetSession(ctx, first.ID())
	require.NoError(t, err)
	assert.Same(t, first, got)

	_, err = svc.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	second, _ := svc.CreateSession(ctx)
	third, _ := svc.CreateSession(ctx)
	_, err = svc.GetSession(ctx, first.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound, "oldest session should be evicted")

	require.NoError(t, svc.DeleteSession(ctx, second.ID()))
	assert.ErrorIs(t, svc.DeleteSession(ctx, second.ID()), ErrSessionNotFound)

	turns, err := svc.LoadTranscript(ctx, third.ID())
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestSessionsDoNotShareHistory(t *testing.T) {
	svc, err := NewService(aitest.New(aitest.Text("a"), aitest.Text("b")), nil, 0)
	require.NoError(t, err)

	one, _ := svc.CreateSession(context.Background())
	two, _ := svc.CreateSession(context.Background())
	one.Submit(context.Background(), "q1")

	assert.Equal(t, 2, one.History().Len())
	assert.Zero(t, two.History().Len())
}
