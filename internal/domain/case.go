package domain

import "strings"

// CaseStudy is a generated customer case distinct from chat turns.
// Cases accumulate per conversation in an ordered list deduplicated by
// normalized title — the generator has no stable ids, so the title is
// the only usable dedup key.
type CaseStudy struct {
	Title            string   `json:"title"`
	Background       string   `json:"background"`
	RequestedContent string   `json:"requestedContent"`
	ActualServices   []string `json:"actualServices"`
	RecommendReason  string   `json:"recommendReason,omitempty"`
	ImagePath        string   `json:"imagePath,omitempty"`
}

// NormalizeTitle folds a case title into its dedup key: lower-cased,
// inner whitespace collapsed, outer whitespace trimmed.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// DedupCases appends candidates to existing, skipping any case whose
// normalized title already appears. Order is preserved.
func DedupCases(existing, candidates []CaseStudy) []CaseStudy {
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[NormalizeTitle(c.Title)] = true
	}
	out := existing
	for _, c := range candidates {
		key := NormalizeTitle(c.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// CaseTitles returns the raw titles of the given cases in order.
func CaseTitles(cases []CaseStudy) []string {
	titles := make([]string, len(cases))
	for i, c := range cases {
		titles[i] = c.Title
	}
	return titles
}
