package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"chattranslator/internal/config"
)

const translatorPrompt = "You are a professional translator. " +
	"Translate the user's message from %s to %s. " +
	"Preserve meaning, tone, numbers and line breaks. " +
	"Output only the translation; do not add notes, quotes or explanations."

// LLMBackend translates through a chat model.
type LLMBackend struct {
	chatModel model.BaseChatModel
}

// NewLLMBackend builds the chat model for one of the supported providers.
func NewLLMBackend(ctx context.Context, provider string, provCfg config.ProviderConfig, modelName string) (*LLMBackend, error) {
	if modelName == "" {
		modelName = provCfg.Model
	}
	if modelName == "" {
		return nil, errors.New("model must be configured")
	}
	token := provCfg.Key()

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  token,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: token,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    token,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 4000,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &LLMBackend{chatModel: chatModel}, nil
}

func (b *LLMBackend) Translate(ctx context.Context, text, source, target string) (string, error) {
	messages := []*schema.Message{
		{
			Role:    schema.System,
			Content: fmt.Sprintf(translatorPrompt, LanguageName(source), LanguageName(target)),
		},
		{
			Role:    schema.User,
			Content: text,
		},
	}
	resp, err := b.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate translation: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
