package parse

import (
	"encoding/json"
	"strings"

	"github.com/noahsdonaldson/prospector/internal/model"
)

// BusinessUnits returns the business-unit names from a stage-2 outcome. The
// structured "business_units" array is preferred; when it is absent the raw
// text is scanned as a markdown table. Entries may be strings or objects with
// a "name" field.
func BusinessUnits(outcome model.ParseOutcome, raw string) []string {
	if s, ok := outcome.(model.Structured); ok {
		if field, present := s.Fields()["business_units"]; present {
			return unitNames(field)
		}
	}
	return BusinessUnitsFromTable(raw)
}

func unitNames(field json.RawMessage) []string {
	var entries []json.RawMessage
	if err := json.Unmarshal(field, &entries); err != nil {
		return nil
	}
	var names []string
	seen := make(map[string]bool)
	for _, e := range entries {
		var name string
		if err := json.Unmarshal(e, &name); err != nil {
			var obj struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(e, &obj); err != nil {
				continue
			}
			name = obj.Name
		}
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// personaRecord is the JSON shape of one persona in a stage-5 record.
type personaRecord struct {
	Name               string `json:"name"`
	Title              string `json:"title"`
	RoleInDecision     string `json:"role_in_decision"`
	PainPoint          string `json:"pain_point"`
	AIUseCase          string `json:"ai_use_case"`
	ExpectedOutcome    string `json:"expected_outcome"`
	StrategicAlignment string `json:"strategic_alignment"`
	ValueHook          string `json:"value_hook"`
}

// PersonaNames returns the raw name of every persona in a structured record,
// including empty and placeholder names. ok is false when the record has no
// "personas" array.
func PersonaNames(s model.Structured) (names []string, ok bool) {
	var rec struct {
		Personas []struct {
			Name *string `json:"name"`
		} `json:"personas"`
	}
	if err := s.Decode(&rec); err != nil || rec.Personas == nil {
		return nil, false
	}
	for _, p := range rec.Personas {
		if p.Name == nil {
			names = append(names, "")
			continue
		}
		names = append(names, *p.Name)
	}
	return names, true
}

// Personas extracts named personas from a stage-5 outcome, preferring the
// structured "personas" array over the raw markdown table. Personas with a
// placeholder name are dropped.
func Personas(outcome model.ParseOutcome, raw string) []model.Persona {
	if s, ok := outcome.(model.Structured); ok {
		var rec struct {
			Personas []personaRecord `json:"personas"`
		}
		if err := s.Decode(&rec); err == nil && rec.Personas != nil {
			out := make([]model.Persona, 0, len(rec.Personas))
			for _, p := range rec.Personas {
				if IsPlaceholder(p.Name) {
					continue
				}
				out = append(out, model.Persona{
					Name:               strings.TrimSpace(p.Name),
					Title:              strings.TrimSpace(p.Title),
					RoleInDecision:     p.RoleInDecision,
					PainPoint:          p.PainPoint,
					AIUseCase:          p.AIUseCase,
					ExpectedOutcome:    p.ExpectedOutcome,
					StrategicAlignment: p.StrategicAlignment,
					ValueHook:          p.ValueHook,
				})
			}
			return out
		}
	}
	return ParsePersonaTable(raw)
}
