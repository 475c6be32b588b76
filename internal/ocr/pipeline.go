package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"chattranslator/internal/models"
)

// ErrExtractionFailed is terminal: nothing downstream of a failed extraction runs.
var ErrExtractionFailed = errors.New("text extraction failed")

const noTextMessage = "no text found in image"

// Extraction is what an OCR engine read from an image. Language may be empty.
type Extraction struct {
	Text     string
	Language string
}

// Extractor reads text from an encoded image.
type Extractor interface {
	Extract(ctx context.Context, img []byte, mimeType string) (Extraction, error)
}

// Translator is the slice of the translation router the pipeline needs.
type Translator interface {
	Route(ctx context.Context, text, sourceLang, targetLang string) (models.TranslationResult, error)
}

// Result keeps extraction and translation outcomes apart; a translation
// failure never hides the extracted text.
type Result struct {
	ExtractedText    string `json:"extracted_text"`
	DetectedLanguage string `json:"detected_language,omitempty"`
	TranslatedText   string `json:"translated_text,omitempty"`
	Confidence       int    `json:"confidence,omitempty"`
	Backend          string `json:"backend,omitempty"`
	TranslationError string `json:"translation_error,omitempty"`
}

type Pipeline struct {
	extractor  Extractor
	translator Translator
	timeout    time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewPipeline(extractor Extractor, translator Translator, timeout time.Duration, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{
		extractor:  extractor,
		translator: translator,
		timeout:    timeout,
		logger:     logger.With("component", "ocr"),
		tracer:     otel.Tracer("chattranslator/ocr"),
	}
}

// Process extracts text from img and, when targetLang is set, translates it.
func (p *Pipeline) Process(ctx context.Context, img []byte, targetLang string) (*Result, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported or corrupt image", models.ErrValidation)
	}

	extraction, err := p.extract(ctx, img, "image/"+format)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(extraction.Text)
	result := &Result{ExtractedText: text}
	p.logger.Info("ocr extracted text", "format", format, "length", len([]rune(text)))
	if text == "" {
		if strings.TrimSpace(targetLang) != "" {
			result.TranslationError = noTextMessage
		}
		return result, nil
	}

	result.DetectedLanguage = extraction.Language
	if result.DetectedLanguage == "" {
		result.DetectedLanguage = DetectLanguage(text)
	}
	if strings.TrimSpace(targetLang) == "" {
		return result, nil
	}

	translation, err := p.translator.Route(ctx, text, result.DetectedLanguage, targetLang)
	if err != nil {
		p.logger.Warn("ocr translation failed", "source", result.DetectedLanguage, "target", targetLang, "error", err)
		result.TranslationError = err.Error()
		return result, nil
	}
	result.TranslatedText = translation.TranslatedText
	result.Confidence = translation.Confidence
	result.Backend = translation.Backend
	return result, nil
}

func (p *Pipeline) extract(ctx context.Context, img []byte, mimeType string) (Extraction, error) {
	ctx, span := p.tracer.Start(ctx, "ocr.extract", trace.WithAttributes(
		attribute.String("image.mime_type", mimeType),
		attribute.Int("image.bytes", len(img)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	extraction, err := p.extractor.Extract(ctx, img, mimeType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		p.logger.Error("ocr extraction failed", "error", err)
		return Extraction{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	return extraction, nil
}

// DetectLanguage reports "ar" for text containing Arabic script, "en" otherwise.
func DetectLanguage(text string) string {
	for _, r := range text {
		if unicode.Is(unicode.Arabic, r) {
			return "ar"
		}
	}
	return "en"
}
