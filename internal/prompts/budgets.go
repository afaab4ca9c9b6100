package prompts

import "github.com/noahsdonaldson/prospector/internal/config"

// DefaultBudgets returns the character budgets used when none are configured.
func DefaultBudgets() config.BudgetsConfig {
	return config.BudgetsConfig{
		Step2Step1:    2000,
		Step3Step1:    1500,
		Step4Step1:    1500,
		Step4Unit:     800,
		Step4MaxUnits: 3,
		Step5Step1:    1000,
		Step5Unit:     500,
		Step5MaxUnits: 2,
		Step5Step4:    1500,
		Step6Step1:    1000,
		Step6Step4:    1500,
		Step6Step5:    1500,
		Step7Step1:    800,
		Step7Step4:    1000,
		Step7Step5:    1000,
		Step7Step6:    1000,
	}
}

// withDefaults fills unset budgets from DefaultBudgets.
func withDefaults(b config.BudgetsConfig) config.BudgetsConfig {
	d := DefaultBudgets()
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&b.Step2Step1, d.Step2Step1)
	fill(&b.Step3Step1, d.Step3Step1)
	fill(&b.Step4Step1, d.Step4Step1)
	fill(&b.Step4Unit, d.Step4Unit)
	fill(&b.Step4MaxUnits, d.Step4MaxUnits)
	fill(&b.Step5Step1, d.Step5Step1)
	fill(&b.Step5Unit, d.Step5Unit)
	fill(&b.Step5MaxUnits, d.Step5MaxUnits)
	fill(&b.Step5Step4, d.Step5Step4)
	fill(&b.Step6Step1, d.Step6Step1)
	fill(&b.Step6Step4, d.Step6Step4)
	fill(&b.Step6Step5, d.Step6Step5)
	fill(&b.Step7Step1, d.Step7Step1)
	fill(&b.Step7Step4, d.Step7Step4)
	fill(&b.Step7Step5, d.Step7Step5)
	fill(&b.Step7Step6, d.Step7Step6)
	return b
}

// Truncate returns the first n characters of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
