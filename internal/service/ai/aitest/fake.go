// Package aitest provides a scripted chat model for tests.
package aitest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrExhausted is returned once every scripted reply has been consumed.
var ErrExhausted = errors.New("aitest: no scripted reply left")

// Reply is one scripted model outcome.
type Reply struct {
	Content string
	Err     error
}

// ChatModel replays scripted replies in order and records every request.
type ChatModel struct {
	mu      sync.Mutex
	replies []Reply
	calls   [][]*schema.Message
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// New returns a model that answers with replies in order.
func New(replies ...Reply) *ChatModel {
	return &ChatModel{replies: replies}
}

// Text is shorthand for a successful reply.
func Text(content string) Reply { return Reply{Content: content} }

// Fail is shorthand for a failing reply.
func Fail(err error) Reply { return Reply{Err: err} }

// Generate pops the next scripted reply.
func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]*schema.Message, len(input))
	copy(copied, input)
	m.calls = append(m.calls, copied)

	if len(m.replies) == 0 {
		return nil, ErrExhausted
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	if next.Err != nil {
		return nil, next.Err
	}
	return schema.AssistantMessage(next.Content, nil), nil
}

// Stream wraps Generate in a single-chunk stream.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls returns every request received so far.
func (m *ChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*schema.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastCall returns the most recent request or nil.
func (m *ChatModel) LastCall() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
