package condense

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

// MaxWords 是语音摘要允许的最大词数。
const MaxWords = 30

const (
	summarySystemPrompt = "You are a summarizer that creates very brief summaries for voice output."
	summaryUserPrompt   = "Summarize the following in 1-2 simple sentences for voice output:\n\n{full}"
)

// Service 使用大模型把完整回答压缩成适合朗读的短摘要，调用失败时回退到本地截句。
type Service struct {
	summarizer compose.Runnable[map[string]any, *schema.Message]
	log        zerolog.Logger
}

// NewService 创建摘要服务。chatModel 为空时只使用本地回退。
func NewService(ctx context.Context, chatModel model.BaseChatModel) (*Service, error) {
	svc := &Service{log: logger.Component("condense")}
	if chatModel == nil {
		return svc, nil
	}

	// 模板参数用 FString，完整回答中的花括号不会被再次解析。
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(summarySystemPrompt),
		schema.UserMessage(summaryUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile summary chain: %w", err)
	}

	svc.summarizer = runnable
	return svc, nil
}

// Enabled 返回是否配置了远端摘要模型。
func (s *Service) Enabled() bool {
	return s != nil && s.summarizer != nil
}

// Condense 返回 full 的语音版摘要。
func (s *Service) Condense(ctx context.Context, full string) string {
	if !s.Enabled() {
		return Fallback(full)
	}

	msg, err := s.summarizer.Invoke(ctx, map[string]any{"full": full})
	if err != nil {
		s.log.Warn().Err(err).Msg("summary invoke failed, use fallback")
		return Fallback(full)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		s.log.Warn().Msg("summary empty, use fallback")
		return Fallback(full)
	}

	return Truncate(strings.TrimSpace(msg.Content), MaxWords)
}

// Truncate 按词边界截断到 limit 个词，超出时追加省略号。
func Truncate(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}
	return strings.Join(words[:limit], " ") + "..."
}

// Fallback 取前两个以句点分隔的片段。
func Fallback(full string) string {
	segments := strings.Split(full, ".")
	if len(segments) > 2 {
		segments = segments[:2]
	}

	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if trimmed := strings.TrimSpace(seg); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(full)
	}
	return strings.Join(kept, ". ") + "."
}
