package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"chattranslator/internal/config"
)

// NewExtractor builds the configured OCR engine.
func NewExtractor(cfg *config.Config) (Extractor, error) {
	switch strings.ToLower(cfg.OCR.Engine) {
	case "", "tesseract":
		return NewTesseract(cfg.OCR.Command, cfg.OCR.Languages), nil
	case "vision":
		provCfg, ok := cfg.Providers[cfg.OCR.Provider]
		if !ok {
			return nil, fmt.Errorf("ocr: unknown provider %q", cfg.OCR.Provider)
		}
		model := cfg.OCR.Model
		if model == "" {
			model = provCfg.Model
		}
		if model == "" {
			return nil, errors.New("ocr: vision model must be configured")
		}
		return NewVision(provCfg.BaseURL, provCfg.Key(), model), nil
	case "stub":
		return StubExtractor{}, nil
	default:
		return nil, fmt.Errorf("ocr: unsupported engine %q", cfg.OCR.Engine)
	}
}

// Tesseract runs the tesseract binary, feeding the image on stdin.
type Tesseract struct {
	command   string
	languages string
}

func NewTesseract(command, languages string) *Tesseract {
	if command == "" {
		command = "tesseract"
	}
	return &Tesseract{command: command, languages: languages}
}

func (t *Tesseract) Extract(ctx context.Context, img []byte, _ string) (Extraction, error) {
	args := []string{"stdin", "stdout"}
	if t.languages != "" {
		args = append(args, "-l", t.languages)
	}
	cmd := exec.CommandContext(ctx, t.command, args...)
	cmd.Stdin = bytes.NewReader(img)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Extraction{}, fmt.Errorf("%s: %w: %s", t.command, err, msg)
		}
		return Extraction{}, fmt.Errorf("%s: %w", t.command, err)
	}
	return Extraction{Text: stdout.String()}, nil
}

const visionPrompt = "Transcribe every piece of text visible in this image exactly as written, " +
	"keeping line breaks. Reply with the text only. If there is no text, reply with nothing."

// Vision asks a multimodal chat model to transcribe the image.
type Vision struct {
	client *openai.Client
	model  string
}

func NewVision(baseURL, apiKey, model string) *Vision {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &Vision{client: openai.NewClientWithConfig(clientConfig), model: model}
}

func (v *Vision) Extract(ctx context.Context, img []byte, mimeType string) (Extraction, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(img))
	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Extraction{}, errors.New("vision completion returned no choices")
	}
	return Extraction{Text: resp.Choices[0].Message.Content}, nil
}

// StubExtractor reads no text from any image.
type StubExtractor struct{}

func (StubExtractor) Extract(ctx context.Context, _ []byte, _ string) (Extraction, error) {
	return Extraction{}, ctx.Err()
}
