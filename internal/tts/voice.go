package tts

import "strings"

// Voice is a synthesizer voice. Lang is a locale such as "en-US".
type Voice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

// SelectVoice picks the best voice for lang: an exact locale match, then any
// voice of the same base language, then the default voice, then the first.
func SelectVoice(voices []Voice, lang string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	want := normalizeLocale(lang)
	for _, v := range voices {
		if normalizeLocale(v.Lang) == want {
			return v, true
		}
	}
	base := baseLanguage(want)
	for _, v := range voices {
		if baseLanguage(normalizeLocale(v.Lang)) == base {
			return v, true
		}
	}
	for _, v := range voices {
		if v.Default {
			return v, true
		}
	}
	return voices[0], true
}

func normalizeLocale(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
}

func baseLanguage(locale string) string {
	base, _, _ := strings.Cut(locale, "-")
	return base
}

// supportsLanguage matches lang against a list of locales or base languages.
// An empty list supports everything.
func supportsLanguage(languages []string, lang string) bool {
	if len(languages) == 0 {
		return true
	}
	want := normalizeLocale(lang)
	for _, l := range languages {
		l = normalizeLocale(l)
		if l == want || l == baseLanguage(want) {
			return true
		}
	}
	return false
}
