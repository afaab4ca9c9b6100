// Package prompts builds the stage prompts for the research pipeline.
// Earlier stage output is carried forward as raw text, cut to per-stage
// character budgets.
package prompts

import (
	"fmt"
	"strings"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/internal/model"
)

// Search topics appended to the company name for stage web searches.
const (
	TopicStrategicObjectives = "strategic objectives plans initiatives"
	TopicBusinessUnits       = "business units divisions segments structure"
	TopicAIInitiatives       = "AI artificial intelligence machine learning initiatives"
)

// TopicUnit returns the deep-dive search topic for a business unit.
func TopicUnit(unit string) string {
	return unit + " business unit operations initiatives"
}

// Builder renders stage prompts under a fixed set of budgets.
type Builder struct {
	budgets config.BudgetsConfig
}

// New creates a Builder. Unset budgets take their defaults.
func New(b config.BudgetsConfig) *Builder {
	return &Builder{budgets: withDefaults(b)}
}

// Budgets returns the effective budgets.
func (p *Builder) Budgets() config.BudgetsConfig {
	return p.budgets
}

const jsonRule = `Return a single JSON object matching the requested shape. Do not add commentary outside the JSON.`

// Step1 asks for the company's strategic objectives.
func (p *Builder) Step1(company string) string {
	return fmt.Sprintf(`Strategic Objectives & Initiatives: %[1]s

Role: You are a strategic research analyst compiling a fact-based view of %[1]s's current strategic objectives, initiatives and success metrics.

Cover the next 2-3 years:
- Strategic objectives, in the company's own language
- Key initiatives tied to each objective
- Measurable targets (financial, operational, customer, workforce)

Source order: company website and investor relations, annual report / 10-K / 20-F, investor day materials, earnings calls from the last 4-6 quarters; then shareholder letters, ESG reports and official press releases; reputable business media only to validate.

Cross-check each objective against at least two primary sources and cite document name and year. Label anything not stated by the company as interpretation.

Output JSON:
{
  "company": "%[1]s",
  "industry": "primary industry, e.g. Financial Services",
  "strategy_horizon": "e.g. FY2025-FY2027",
  "objectives": [
    {"objective": "", "description": "", "initiatives": [""], "metrics": [""], "sources": [""]}
  ]
}

%[2]s`, company, jsonRule)
}

// Step2 maps the company's business units to its strategy.
func (p *Builder) Step2(company, step1 string) string {
	return fmt.Sprintf(`Business-Unit Strategic Alignment: %[1]s

Role: You are a strategic research analyst specializing in corporate disclosures. Map each reportable business segment of %[1]s to the enterprise objectives it drives and the KPIs used to measure it.

Context from Strategic Objectives:
%[2]s

Instructions:
1. Use the reportable segments from the latest 10-K or investor relations site.
2. Summarize each unit's products, services and customers.
3. Tie each unit to the enterprise objectives it is tasked with, using company terminology.
4. List the financial and operational KPIs the company reports for the unit.

If a metric is not disclosed, write "Not Publicly Disclosed" rather than inferring.

Output JSON:
{
  "business_units": [
    {"name": "", "primary_focus": "", "strategic_alignment": "", "core_metrics": [""]}
  ]
}

%[3]s`, company, Truncate(step1, p.budgets.Step2Step1), jsonRule)
}

// Step3 profiles one business unit.
func (p *Builder) Step3(company, unit, step1 string) string {
	return fmt.Sprintf(`Business Unit Deep-Dive: %[2]s (%[1]s)

Role: You are a strategic research analyst specializing in divisional operations. Profile %[2]s within %[1]s for the next 24 months.

Context from Strategic Objectives:
%[3]s

Cover:
1. Main objectives: 3-4 strategic pillars for this unit and how its operating model is changing.
2. Metrics to watch: the KPIs used to track the unit, with the most recent reported values.
3. Key challenges: technical or structural, market or economic, and regulatory.

Prefer segment reporting in 10-K/10-Q filings, investor day deep-dives and earnings call remarks by the unit's leadership.

Output JSON:
{
  "business_unit": "%[2]s",
  "objectives": [""],
  "metrics": [""],
  "challenges": {"technical": [""], "market": [""], "regulatory": [""]}
}

%[4]s`, company, unit, Truncate(step1, p.budgets.Step3Step1), jsonRule)
}

// Step4 maps objectives to AI use cases. units are taken in order up to
// the configured maximum.
func (p *Builder) Step4(company, step1 string, units []model.UnitContext) string {
	return fmt.Sprintf(`AI Alignment & Use Case Mapping: %[1]s

Role: You are an AI strategy and solutions architect. Map the business-unit objectives of %[1]s to specific, high-impact agentic AI use cases with measurable operational lift.

Context from Strategic Objectives:
%[2]s

Context from Business Unit Deep-Dives:
%[3]s

Standards:
- Be specific. Name the workflow, not "improve efficiency".
- Mention data lineage, explainability or compliance readiness where relevant.
- Focus on 2025-2026 and autonomous, agentic workflows.

Output JSON:
{
  "use_cases": [
    {"objective": "", "use_case": "", "expected_outcome": "", "strategic_pillar": ""}
  ]
}

%[4]s`, company,
		Truncate(step1, p.budgets.Step4Step1),
		unitSummary(units, p.budgets.Step4MaxUnits, p.budgets.Step4Unit),
		jsonRule)
}

// Step5 identifies named decision-makers.
func (p *Builder) Step5(company, step1 string, units []model.UnitContext, step4 string) string {
	return fmt.Sprintf(`Persona Mapping: %[1]s

Role: You are an executive outreach strategist. Identify the decision-makers at %[1]s who would buy, champion or gatekeep the AI use cases below, by name.

Context from Strategic Objectives:
%[2]s

Context from Business Unit Deep-Dives:
%[3]s

Context from AI Use Cases:
%[4]s

Requirements:
1. List 3-5 people, each with their real full name and current title. Use names found in the web search results when present.
2. Give each person's role in the decision: Economic Buyer, Champion or Technical Gatekeeper.
3. State the specific pain point the AI use cases solve for them.
4. Write a one-sentence value hook linking the KPI lift to enterprise strategy.
5. Draft two short executive hooks for outreach.

Never use placeholders such as "TBD" or "N/A" for a name.

Output JSON:
{
  "personas": [
    {"name": "", "title": "", "role_in_decision": "", "pain_point": "", "ai_use_case": "", "value_hook": ""}
  ],
  "outreach_hooks": [""]
}

%[5]s`, company,
		Truncate(step1, p.budgets.Step5Step1),
		unitSummary(units, p.budgets.Step5MaxUnits, p.budgets.Step5Unit),
		Truncate(step4, p.budgets.Step5Step4),
		jsonRule)
}

// Step5Retry wraps the persona prompt after a response without real names.
func (p *Builder) Step5Retry(webContext, prompt string) string {
	return fmt.Sprintf(`CRITICAL RETRY: The previous attempt failed to find actual executive names.

%s

%s

MANDATORY REQUIREMENTS:
- You MUST find actual executive names from the search results above
- "TBD" is NOT acceptable - use the web search results provided
- If a name is in the search results, you MUST use it
- Review the search results carefully - names are present in the content
- Do not proceed without finding at least 3 actual executive names`, webContext, prompt)
}

// Step6 builds the value realization table.
func (p *Builder) Step6(company, step1, step4, step5 string) string {
	return fmt.Sprintf(`Value Realization: %[1]s

Role: You are a strategic solutions architect. Synthesize the research into a value realization map for %[1]s.

Context from Strategic Objectives:
%[2]s

Context from AI Use Cases:
%[3]s

Context from Persona Mapping:
%[4]s

For each persona give their biggest pain point, the AI use case that addresses it, the expected outcome and the enterprise objective it serves. Express outcomes as 2-3 quantified KPI changes using arrows (e.g. "↑ STP %%, ↓ OPEX %%"). Use the exact strategic objective wording from the first stage.

Output JSON:
{
  "value_map": [
    {"persona": "", "pain_point": "", "use_case": "", "expected_outcome": "", "strategic_alignment": ""}
  ]
}

%[5]s`, company,
		Truncate(step1, p.budgets.Step6Step1),
		Truncate(step4, p.budgets.Step6Step4),
		Truncate(step5, p.budgets.Step6Step5),
		jsonRule)
}

// Step7 drafts the outreach email.
func (p *Builder) Step7(company, step1, step4, step5, step6 string) string {
	return fmt.Sprintf(`Personalized Outreach Email: %[1]s

Role: You are a strategic sales specialist. Draft a personalized email to one decision-maker at %[1]s using the research below.

Context from Strategic Objectives:
%[2]s

Context from AI Use Cases:
%[3]s

Context from Persona Mapping:
%[4]s

Context from Value Realization:
%[5]s

Guidelines:
1. Open with an enterprise goal from the strategic objectives.
2. Acknowledge the constraint the business unit is likely facing.
3. Show how AI has helped similar firms overcome it.
4. Cite the projected KPI lift.
5. Stay collaborative, not presumptive ("We understand one of your key objectives is...").
6. Close with a low-friction request for a short conversation.

Keep the body to 3-5 paragraphs.

Output JSON:
{"recipient": "", "subject": "", "body": ""}

%[6]s`, company,
		Truncate(step1, p.budgets.Step7Step1),
		Truncate(step4, p.budgets.Step7Step4),
		Truncate(step5, p.budgets.Step7Step5),
		Truncate(step6, p.budgets.Step7Step6),
		jsonRule)
}

// WithWebContext prepends search context to a prompt, followed by a blank
// line. Empty context leaves the prompt unchanged.
func WithWebContext(webContext, prompt string) string {
	if webContext == "" {
		return prompt
	}
	return webContext + "\n\n" + prompt
}

func unitSummary(units []model.UnitContext, maxUnits, perUnit int) string {
	if len(units) > maxUnits {
		units = units[:maxUnits]
	}
	parts := make([]string, 0, len(units))
	for _, u := range units {
		parts = append(parts, fmt.Sprintf("%s:\n%s", u.Name, Truncate(u.Raw, perUnit)))
	}
	return strings.Join(parts, "\n\n")
}
