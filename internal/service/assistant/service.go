// Package assistant produces chat replies for the local webhook stand-in.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/optinbot/widget/internal/config"
	"github.com/optinbot/widget/internal/model/chat"
	"github.com/optinbot/widget/internal/service/conversation"
)

// Replier answers one visitor message within a session.
type Replier interface {
	Reply(ctx context.Context, sessionID, input string) (string, error)
	End(sessionID string)
}

// Service answers with an LLM chain, keeping a bounded per-session history.
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
	historyLimit int
	sessions     *expirable.LRU[string, *conversation.Store]
}

// NewService builds the chain from the Ark settings in cfg.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return newService(ctx, chatModel, cfg.SystemPrompt, cfg.HistoryLimit)
}

func newService(ctx context.Context, chatModel model.BaseChatModel, systemPrompt string, historyLimit int) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if historyLimit < 1 {
		historyLimit = 1
	}
	return &Service{
		chain:        runnable,
		systemPrompt: systemPrompt,
		historyLimit: historyLimit,
		sessions:     expirable.NewLRU[string, *conversation.Store](1024, nil, time.Hour),
	}, nil
}

// Reply runs the chain over the session history and records both turns.
func (s *Service) Reply(ctx context.Context, sessionID, input string) (string, error) {
	history := s.history(sessionID)

	response, err := s.chain.Invoke(ctx, map[string]any{
		"system":  s.systemPrompt,
		"history": s.buildHistoryMessages(history.Messages()),
		"query":   input,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}

	history.Append(chat.RoleUser, input)
	history.Append(chat.RoleBot, response.Content)

	log.Debug().Str("sessionId", sessionID).Int("length", len(response.Content)).Msg("[assistant] generated reply")
	return response.Content, nil
}

// End drops the session history.
func (s *Service) End(sessionID string) {
	s.sessions.Remove(sessionID)
}

func (s *Service) history(sessionID string) *conversation.Store {
	if store, ok := s.sessions.Get(sessionID); ok {
		return store
	}
	store := conversation.NewStore()
	s.sessions.Add(sessionID, store)
	return store
}

func (s *Service) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > s.historyLimit {
		startIdx = len(messages) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Text))
		case chat.RoleBot:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}

// Echo replies without a model, for running the stack offline.
type Echo struct{}

func (Echo) Reply(_ context.Context, _ string, input string) (string, error) {
	return "You said: **" + strings.TrimSpace(input) + "**", nil
}

func (Echo) End(string) {}
