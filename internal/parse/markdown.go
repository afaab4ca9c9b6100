package parse

import (
	"regexp"
	"strings"

	"github.com/noahsdonaldson/prospector/internal/model"
)

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]*>`)
	boldStarPattern  = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italStarPattern  = regexp.MustCompile(`\*(.*?)\*`)
	boldUnderPattern = regexp.MustCompile(`__(.*?)__`)
	italUnderPattern = regexp.MustCompile(`_(.*?)_`)
	codePattern      = regexp.MustCompile("`(.*?)`")
	strikePattern    = regexp.MustCompile(`~~(.*?)~~`)
	linkPattern      = regexp.MustCompile(`\[(.*?)\]\(.*?\)`)
	headerPattern    = regexp.MustCompile(`#{1,6}\s`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
	)
)

// StripMarkdown removes common markdown and HTML formatting from text.
func StripMarkdown(text string) string {
	if text == "" {
		return ""
	}
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = boldStarPattern.ReplaceAllString(text, "$1")
	text = italStarPattern.ReplaceAllString(text, "$1")
	text = boldUnderPattern.ReplaceAllString(text, "$1")
	text = italUnderPattern.ReplaceAllString(text, "$1")
	text = codePattern.ReplaceAllString(text, "$1")
	text = strikePattern.ReplaceAllString(text, "$1")
	text = linkPattern.ReplaceAllString(text, "$1")
	text = headerPattern.ReplaceAllString(text, "")
	text = entityReplacer.Replace(text)
	return strings.TrimSpace(text)
}

// placeholders are values a model emits instead of a researched name.
var placeholders = map[string]bool{
	"tbd":              true,
	"to be determined": true,
	"-":                true,
	"n/a":              true,
	"not available":    true,
	"":                 true,
}

// IsPlaceholder reports whether s is a placeholder identity, compared
// case-insensitively after trimming.
func IsPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// splitRow splits a pipe-table row into trimmed cells, keeping the empty
// leading and trailing cells produced by outer pipes.
func splitRow(line string) []string {
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// isSeparatorRow reports whether line is a markdown table separator.
func isSeparatorRow(line string) bool {
	return strings.Contains(line, "---")
}

// nonEmpty drops empty cells.
func nonEmpty(cells []string) []string {
	out := cells[:0:0]
	for _, c := range cells {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// BusinessUnitsFromTable scans a markdown table for business-unit names in
// its first column. Header and separator rows are skipped and names are
// de-duplicated in order of appearance.
func BusinessUnitsFromTable(text string) []string {
	var units []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "|") || isSeparatorRow(trimmed) {
			continue
		}
		cells := splitRow(trimmed)
		if len(cells) < 2 || cells[1] == "" {
			continue
		}
		name := StripMarkdown(cells[1])
		if name == "" || strings.EqualFold(name, "business unit") || seen[name] {
			continue
		}
		seen[name] = true
		units = append(units, name)
	}
	return units
}

// personaColumn maps a header cell to a persona field.
func personaColumn(header string) string {
	h := strings.ToLower(header)
	switch {
	case strings.Contains(h, "name"):
		return "name"
	case strings.Contains(h, "persona") && !strings.Contains(h, "title"):
		return "persona_title"
	case strings.Contains(h, "decision"):
		return "role_in_decision"
	case strings.Contains(h, "title") || strings.Contains(h, "role"):
		return "title"
	case strings.Contains(h, "pain"):
		return "pain_point"
	case strings.Contains(h, "use case") || strings.Contains(h, "ai"):
		return "ai_use_case"
	case strings.Contains(h, "outcome") || strings.Contains(h, "expected"):
		return "expected_outcome"
	case strings.Contains(h, "strategic") || strings.Contains(h, "alignment"):
		return "strategic_alignment"
	case strings.Contains(h, "value") || strings.Contains(h, "hook"):
		return "value_hook"
	default:
		return ""
	}
}

// ParsePersonaTable extracts personas from the first markdown table whose
// header mentions a name, title or persona column. Rows whose cell count
// does not match the header are skipped, as are rows without a real name.
func ParsePersonaTable(text string) []model.Persona {
	lines := strings.Split(text, "\n")

	headerIdx := -1
	for i, line := range lines {
		l := strings.ToLower(line)
		if strings.Contains(line, "|") &&
			(strings.Contains(l, "name") || strings.Contains(l, "title") || strings.Contains(l, "persona")) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil
	}

	columns := nonEmpty(splitRow(lines[headerIdx]))
	fields := make([]string, len(columns))
	for i, c := range columns {
		fields[i] = personaColumn(c)
	}

	var personas []model.Persona
	for _, line := range lines[headerIdx+1:] {
		line = strings.TrimSpace(line)
		if line == "" || isSeparatorRow(line) || !strings.Contains(line, "|") {
			continue
		}
		cells := nonEmpty(splitRow(line))
		if len(cells) != len(columns) {
			continue
		}

		var p model.Persona
		var personaTitle string
		for i, cell := range cells {
			v := StripMarkdown(cell)
			switch fields[i] {
			case "name":
				p.Name = v
			case "persona_title":
				personaTitle = v
			case "title":
				p.Title = v
			case "role_in_decision":
				p.RoleInDecision = v
			case "pain_point":
				p.PainPoint = v
			case "ai_use_case":
				p.AIUseCase = v
			case "expected_outcome":
				p.ExpectedOutcome = v
			case "strategic_alignment":
				p.StrategicAlignment = v
			case "value_hook":
				p.ValueHook = v
			}
		}
		if p.Title == "" {
			p.Title = personaTitle
		}
		if IsPlaceholder(p.Name) {
			continue
		}
		personas = append(personas, p)
	}
	return personas
}
