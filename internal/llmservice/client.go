package llmservice

import (
	"context"
	"errors"
	"strings"

	"dialog-rag/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const ocrPrompt = "Extract all readable text from this image. " +
	"Answer with the text only, preserving line breaks, and nothing else."

func newLLM(llmConfig *config.LLMConfig) (*openai.LLM, error) {
	return openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	)
}

// call llm
func GenerateContent(ctx context.Context, llmConfig *config.LLMConfig, tools []llms.Tool, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	log.Debug().Str("model", llmConfig.Model).Msg("Generating content")
	llm, err := newLLM(llmConfig)
	if err != nil {
		return nil, err
	}

	if len(tools) > 0 {
		return llm.GenerateContent(ctx, messages, llms.WithTools(tools))
	}

	return llm.GenerateContent(ctx, messages)
}

// Vision reads text out of images through a vision-capable chat model.
// It satisfies the extractor's VisionOCR interface.
type Vision struct {
	cfg *config.LLMConfig
}

func NewVision(cfg *config.LLMConfig) *Vision {
	return &Vision{cfg: cfg}
}

func (v *Vision) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, image),
				llms.TextPart(ocrPrompt),
			},
		},
	}
	res, err := GenerateContent(ctx, v.cfg, nil, messages)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", errors.New("vision model returned no choices")
	}
	return res.Choices[0].Content, nil
}
