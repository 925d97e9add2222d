package crawler

import "strings"

// KeywordScorer scores text by the fraction of configured keywords present,
// scaled by the configured weight. Absence of any keyword signal scores 0,
// not a neutral midpoint. Deterministic and safe for concurrent use.
type KeywordScorer struct {
	keywords []string
	weight   float64
}

// NewKeywordScorer builds a scorer. Weight must lie in [0, 1].
func NewKeywordScorer(spec ScoreSpec) (*KeywordScorer, error) {
	if spec.Weight < 0 || spec.Weight > 1 {
		return nil, configErrorf("keyword_weight", "must be in [0, 1], got %v", spec.Weight)
	}
	s := &KeywordScorer{weight: spec.Weight}
	for _, kw := range spec.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			s.keywords = append(s.keywords, kw)
		}
	}
	return s, nil
}

// Score returns weight * hit_ratio, where hit_ratio is the fraction of
// keywords found in text by case-insensitive substring match.
func (s *KeywordScorer) Score(text string) float64 {
	if len(s.keywords) == 0 || text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	return s.weight * float64(hits) / float64(len(s.keywords))
}
