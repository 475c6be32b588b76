package translate

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"chattranslator/internal/models"
)

// English names accepted in place of codes.
var languageNames = map[string]string{
	"english":    "en",
	"french":     "fr",
	"german":     "de",
	"spanish":    "es",
	"italian":    "it",
	"portuguese": "pt",
	"arabic":     "ar",
	"chinese":    "zh",
	"japanese":   "ja",
	"russian":    "ru",
	"turkish":    "tr",
	"dutch":      "nl",
}

// NormalizeLanguage reduces a code, locale or English name to its base
// language code ("en-US", "en_us" and "English" all become "en").
func NormalizeLanguage(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("%w: language is required", models.ErrValidation)
	}
	if code, ok := languageNames[s]; ok {
		return code, nil
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("%w: unknown language %q", ErrUnsupportedPair, s)
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", fmt.Errorf("%w: unknown language %q", ErrUnsupportedPair, s)
	}
	return base.String(), nil
}

// LanguageName returns the English display name of a code, or the code itself.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

type pair struct {
	source string
	target string
}

func (p pair) String() string {
	return p.source + "-" + p.target
}

func parsePair(s string) (pair, error) {
	src, tgt, ok := strings.Cut(s, "-")
	if !ok {
		return pair{}, fmt.Errorf("pair %q must look like src-tgt", s)
	}
	source, err := NormalizeLanguage(src)
	if err != nil {
		return pair{}, err
	}
	target, err := NormalizeLanguage(tgt)
	if err != nil {
		return pair{}, err
	}
	return pair{source: source, target: target}, nil
}
