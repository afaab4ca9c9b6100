package judge

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	scorePattern  = regexp.MustCompile(`(?i)Score:\s*\**\s*(\d+)`)
	statusPattern = regexp.MustCompile(`(?i)Status:\s*\**\s*(RED|YELLOW|GREEN)`)

	overallScorePattern  = regexp.MustCompile(`(?i)Overall Score:\s*\**\s*(\d+)`)
	overallStatusPattern = regexp.MustCompile(`(?i)Overall Status:\s*\**\s*(RED|YELLOW|GREEN)`)

	bulletPattern   = regexp.MustCompile(`^(?:[-*•]|\d+\.)\s+`)
	sectionBoundary = regexp.MustCompile(`(?im)^\s*\**\s*(Score|Status|Issues|Strengths|Recommendations|Overall Score|Overall Status|Critical Issues|Warnings|Overall Assessment)\s*\**\s*:`)
)

type stepVerdict struct {
	Score           int
	Status          Status
	Issues          []string
	Strengths       []string
	Recommendations []string
}

type overallVerdict struct {
	Score           int
	Status          Status
	CriticalIssues  []string
	Warnings        []string
	Assessment      string
	Recommendations []string
}

func parseStep(text string) stepVerdict {
	score := intMatch(scorePattern, text, defaultScore)
	secs := sections(text)
	return stepVerdict{
		Score:           score,
		Status:          statusMatch(statusPattern, text, score),
		Issues:          listItems(secs["issues"]),
		Strengths:       listItems(secs["strengths"]),
		Recommendations: listItems(secs["recommendations"]),
	}
}

func parseOverall(text string) overallVerdict {
	score := intMatch(overallScorePattern, text, defaultScore)
	secs := sections(text)
	return overallVerdict{
		Score:           score,
		Status:          statusMatch(overallStatusPattern, text, score),
		CriticalIssues:  listItems(secs["critical issues"]),
		Warnings:        listItems(secs["warnings"]),
		Assessment:      strings.TrimSpace(secs["overall assessment"]),
		Recommendations: listItems(secs["recommendations"]),
	}
}

func intMatch(re *regexp.Regexp, text string, fallback int) int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return fallback
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return fallback
	}
	return n
}

func statusMatch(re *regexp.Regexp, text string, score int) Status {
	if m := re.FindStringSubmatch(text); m != nil {
		return Status(strings.ToUpper(m[1]))
	}
	return StatusFromScore(score)
}

// sections splits a judge response into labeled sections keyed by the
// lower-cased label. Each body runs to the next label.
func sections(text string) map[string]string {
	out := make(map[string]string)
	locs := sectionBoundary.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		label := strings.ToLower(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if _, seen := out[label]; !seen {
			out[label] = text[loc[1]:end]
		}
	}
	return out
}

// listItems extracts bulleted or numbered items. "None" entries are dropped;
// text with no bullets becomes a single item.
func listItems(text string) []string {
	text = strings.TrimSpace(text)
	items := []string{}
	if text == "" {
		return items
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		loc := bulletPattern.FindStringIndex(line)
		if loc == nil {
			continue
		}
		item := strings.TrimSpace(line[loc[1]:])
		if item != "" && !strings.EqualFold(item, "none") {
			items = append(items, item)
		}
	}
	if len(items) == 0 && !strings.EqualFold(text, "none") && !bulletPattern.MatchString(text) {
		items = append(items, text)
	}
	return items
}
