package document

import (
	"strings"
	"unicode/utf8"
)

// Chunk splits text on paragraph boundaries into pieces of at most max runes.
// Paragraphs longer than max are split on line breaks, then hard-cut.
func Chunk(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			size = 0
		}
	}
	add := func(piece, sep string) {
		n := utf8.RuneCountInString(piece)
		if size > 0 && size+utf8.RuneCountInString(sep)+n > max {
			flush()
		}
		if size > 0 {
			current.WriteString(sep)
			size += utf8.RuneCountInString(sep)
		}
		current.WriteString(piece)
		size += n
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= max {
			add(para, "\n\n")
			continue
		}
		flush()
		for _, line := range strings.Split(para, "\n") {
			for _, piece := range hardCut(line, max) {
				add(piece, "\n")
			}
		}
		flush()
	}
	flush()
	return chunks
}

func hardCut(s string, max int) []string {
	runes := []rune(s)
	if len(runes) <= max {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(runes); start += max {
		end := start + max
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
