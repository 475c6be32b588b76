package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"golang.org/x/text/encoding/charmap"
)

// ErrNoText is returned for files without readable text.
var ErrNoText = errors.New("file has no readable text content")

// Reader extracts plain text from uploaded documents.
type Reader struct {
	loader *file.FileLoader
}

func NewReader(ctx context.Context) (*Reader, error) {
	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &Reader{loader: loader}, nil
}

// Read loads the file at path. Content that is not valid UTF-8 is decoded
// as Latin-1.
func (r *Reader) Read(ctx context.Context, path string) (string, error) {
	docs, err := r.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load file: %w", err)
	}
	var builder strings.Builder
	for _, doc := range docs {
		content := doc.Content
		if !utf8.ValidString(content) {
			decoded, err := charmap.ISO8859_1.NewDecoder().String(content)
			if err != nil {
				return "", fmt.Errorf("decode latin-1: %w", err)
			}
			content = decoded
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n\n")
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}
