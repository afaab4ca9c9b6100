// Package quality holds output checks that decide whether a stage should be
// re-run.
package quality

import (
	"strings"

	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/parse"
)

// placeholderPhrases are searched for anywhere in unparseable output.
var placeholderPhrases = []string{"tbd", "to be determined"}

// NeedsRetry reports whether persona-mapping output names placeholders
// instead of real people. A structured "personas" array is checked name by
// name; otherwise the raw text is scanned for placeholder phrases and pipe
// rows whose first cell is empty or a placeholder.
func NeedsRetry(raw string) bool {
	if s, ok := parse.Parse(raw).(model.Structured); ok {
		if names, present := parse.PersonaNames(s); present {
			for _, n := range names {
				if parse.IsPlaceholder(n) {
					return true
				}
			}
			return false
		}
	}
	return rawHasPlaceholders(raw)
}

func rawHasPlaceholders(raw string) bool {
	lower := strings.ToLower(raw)
	for _, p := range placeholderPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}

	headerSeen := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") || strings.Contains(line, "---") {
			continue
		}
		if !headerSeen {
			headerSeen = true
			continue
		}
		cells := strings.Split(line, "|")
		if len(cells) < 2 {
			continue
		}
		if parse.IsPlaceholder(parse.StripMarkdown(cells[1])) {
			return true
		}
	}
	return false
}
