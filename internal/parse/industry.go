package parse

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/noahsdonaldson/prospector/internal/model"
)

type industryRule struct {
	key      string
	patterns []*regexp.Regexp
}

// industryKeywords is checked in order; the first industry with a matching
// keyword wins.
var industryKeywords = []struct {
	key      string
	keywords []string
}{
	{"healthcare", []string{"healthcare", "hospital", "medical", "pharmaceutical", "biotech", "health care"}},
	{"financial_services", []string{"financial", "banking", "fintech", "insurance", "investment"}},
	{"retail", []string{"retail", "e-commerce", "ecommerce", "consumer goods"}},
	{"manufacturing", []string{"manufacturing", "industrial", "production", "factory"}},
	{"technology", []string{"technology", "software", "saas", "tech", "it services"}},
	{"energy", []string{"energy", "oil", "gas", "renewable", "utilities"}},
	{"telecommunications", []string{"telecom", "telecommunications", "wireless", "network"}},
	{"education", []string{"education", "university", "school", "learning"}},
	{"transportation", []string{"transportation", "logistics", "shipping", "automotive"}},
	{"real_estate", []string{"real estate", "property", "construction"}},
	{"professional_services", []string{"consulting", "professional services", "advisory"}},
	{"media", []string{"media", "entertainment", "publishing", "broadcasting"}},
}

var industryRules = compileIndustryRules()

func compileIndustryRules() []industryRule {
	rules := make([]industryRule, 0, len(industryKeywords))
	for _, ik := range industryKeywords {
		r := industryRule{key: ik.key}
		for _, kw := range ik.keywords {
			r.patterns = append(r.patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(kw)+`\b`))
		}
		rules = append(rules, r)
	}
	return rules
}

var titleCaser = cases.Title(language.English)

// ExtractIndustry classifies text by keyword into a human-readable industry
// name such as "Financial Services". Keywords match on word boundaries,
// case-insensitively. It returns false when no keyword matches.
func ExtractIndustry(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, r := range industryRules {
		for _, p := range r.patterns {
			if p.MatchString(lower) {
				return titleCaser.String(strings.ReplaceAll(r.key, "_", " ")), true
			}
		}
	}
	return "", false
}

// Industry returns the industry named in a structured record's "industry"
// field, falling back to keyword extraction over raw.
func Industry(outcome model.ParseOutcome, raw string) string {
	if s, ok := outcome.(model.Structured); ok {
		var rec struct {
			Industry string `json:"industry"`
		}
		if err := s.Decode(&rec); err == nil && strings.TrimSpace(rec.Industry) != "" {
			return strings.TrimSpace(rec.Industry)
		}
	}
	industry, _ := ExtractIndustry(raw)
	return industry
}
