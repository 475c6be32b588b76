package translate

import (
	"strings"
	"unicode/utf8"

	"chattranslator/internal/config"
	"chattranslator/internal/models"
)

// Scoring turns a routing decision into a 0-100 confidence figure. It is a
// heuristic built from configured weights, not a model-reported probability.
type Scoring struct {
	base         map[models.BackendKind]int
	countChars   bool
	threshold    int
	penalty      int
	bonus        int
	rarePenalty  int
	highResource map[pair]bool
}

func NewScoring(cfg config.ScoringConfig, highResourcePairs []string) (Scoring, error) {
	if err := cfg.Validate(); err != nil {
		return Scoring{}, err
	}
	s := Scoring{
		base:         make(map[models.BackendKind]int, len(cfg.BaseWeights)),
		countChars:   strings.EqualFold(cfg.LengthUnit, "chars"),
		threshold:    cfg.ShortTextThreshold,
		penalty:      cfg.ShortTextPenalty,
		bonus:        cfg.HighResourceBonus,
		rarePenalty:  cfg.RarePairPenalty,
		highResource: make(map[pair]bool, len(highResourcePairs)),
	}
	for kind, w := range cfg.BaseWeights {
		s.base[models.BackendKind(kind)] = w
	}
	for _, raw := range highResourcePairs {
		p, err := parsePair(raw)
		if err != nil {
			return Scoring{}, err
		}
		s.highResource[p] = true
	}
	return s, nil
}

// Confidence is deterministic in its inputs and never increases as the
// input gets shorter.
func (s Scoring) Confidence(kind models.BackendKind, text, source, target string) int {
	score := s.base[kind]

	if n := s.length(text); s.threshold > 0 && n < s.threshold {
		score -= s.penalty * (s.threshold - n) / s.threshold
	}

	if s.highResource[pair{source: source, target: target}] {
		score += s.bonus
	} else {
		score -= s.rarePenalty
	}
	return clamp(score, 0, 100)
}

func (s Scoring) length(text string) int {
	if s.countChars {
		return utf8.RuneCountInString(strings.TrimSpace(text))
	}
	return len(strings.Fields(text))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
