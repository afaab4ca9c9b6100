package judge

import (
	"fmt"
	"strings"

	"github.com/noahsdonaldson/prospector/internal/model"
)

func stepLabel(idx int) string {
	return fmt.Sprintf("Step %d: %s", idx, model.StageNames[idx])
}

func citationList(citations []model.Citation) string {
	if len(citations) == 0 {
		return "No citations provided"
	}
	var b strings.Builder
	for i, c := range citations {
		title, url := c.Title, c.URL
		if title == "" {
			title = "No title"
		}
		if url == "" {
			url = "No URL"
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%d] %s (%s) - Relevance: %.0f%%", i+1, title, url, c.RelevanceScore*100)
	}
	return b.String()
}

func stepPrompt(step, company, output string, citations []model.Citation) string {
	return fmt.Sprintf(`You are validating the quality of AI-generated research. Analyze this research step and provide a quality score.

**STEP BEING VALIDATED:** %s

**ORIGINAL PROMPT/INSTRUCTIONS:**
Generate %s for %s including all required elements and structure.

**OUTPUT PRODUCED:**
%s

**SOURCE CITATIONS USED:**
%s

**YOUR VALIDATION TASK:**

1. **Citation Quality (0-30 points)**
   - Are key claims supported by citations?
   - Are citations relevant and authoritative?
   - Any unsupported statements or potential hallucinations?

2. **Prompt Adherence (0-30 points)**
   - Does output follow the original prompt instructions?
   - Are all required elements present?
   - Is the format/structure correct?

3. **Accuracy & Consistency (0-30 points)**
   - Are facts accurate based on citations?
   - Internal consistency within this step?
   - Any contradictions or unclear statements?

4. **Completeness & Depth (0-10 points)**
   - Sufficient detail and depth?
   - Actionable and useful information?

**REQUIRED OUTPUT FORMAT:**

Score: [0-100]
Status: [RED/YELLOW/GREEN]

Issues:
- [List specific issues found, or "None" if none]

Strengths:
- [List 2-3 strengths]

Recommendations:
- [Specific improvements needed, or "None" if score is GREEN]

**SCORING GUIDELINES:**
- GREEN (85-100): High quality, well-cited, accurate, complete
- YELLOW (70-84): Good but has minor gaps, weak citations, or unclear areas
- RED (<70): Significant issues - missing citations, inaccuracies, incomplete, or poor adherence

Provide your validation now:`, step, step, company, output, citationList(citations))
}

func overallPrompt(steps []StepValidation) string {
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		lines = append(lines, fmt.Sprintf("- %s: Score %d/100 (%s)", s.Name, s.Score, s.Status))
	}
	return fmt.Sprintf(`You are performing a final holistic validation of a complete research report.

**INDIVIDUAL STEP SCORES:**
%s

**YOUR TASK:**
Review the consistency and quality across ALL steps of the research.

1. **Cross-Step Consistency (0-40 points)**
   - Do personas in Step 5 align with use cases in Step 4?
   - Does the value realization in Step 6 reference earlier findings?
   - Are the strategic objectives from Step 1 consistent throughout?
   - Any contradictions between steps?

2. **Overall Coherence (0-30 points)**
   - Does research tell a coherent story?
   - Logical flow from objectives to outreach?
   - Professional quality throughout?

3. **Actionability (0-30 points)**
   - Can this research drive real business actions?
   - Specific enough for sales/outreach?
   - Clear value propositions?

**REQUIRED OUTPUT FORMAT:**

Overall Score: [0-100]
Overall Status: [RED/YELLOW/GREEN]

Critical Issues:
- [Cross-step issues or systemic problems, or "None"]

Warnings:
- [Minor concerns across multiple steps, or "None"]

Overall Assessment:
[2-3 sentences on overall quality]

Recommendations:
- [Top 3 recommendations for improvement, or "Research meets quality standards" if GREEN]

Provide your overall validation now:`, strings.Join(lines, "\n"))
}
