package export

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/parse"
)

// PersonaSheet is the worksheet name used for persona exports.
const PersonaSheet = "Personas"

// personaHeader lists the persona sheet columns in order.
var personaHeader = []string{
	"Company",
	"Name",
	"Title",
	"Role in Decision",
	"Pain Point",
	"AI Use Case",
	"Expected Outcome",
	"Strategic Alignment",
	"Value Hook",
	"Source",
	"Last Researched",
}

// PersonaRow is a persona with the name of its company, as read from or
// written to a spreadsheet.
type PersonaRow struct {
	Company string
	Persona model.Persona
}

// WritePersonasXLSX writes personas to a new workbook at path, one row per
// persona under a header row. companies maps company IDs to names.
func WritePersonasXLSX(path string, personas []model.Persona, companies map[int64]string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(PersonaSheet)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	addRow(sheet, personaHeader)
	for _, p := range personas {
		last := ""
		if p.LastResearchedAt != nil {
			last = p.LastResearchedAt.UTC().Format(time.DateOnly)
		}
		addRow(sheet, []string{
			companies[p.CompanyID],
			p.Name,
			p.Title,
			p.RoleInDecision,
			p.PainPoint,
			p.AIUseCase,
			p.ExpectedOutcome,
			p.StrategicAlignment,
			p.ValueHook,
			string(p.Source),
			last,
		})
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// ReadPersonasXLSX reads personas from the first sheet of the workbook at
// path. Columns are matched by header name, case-insensitively, so sheets
// written by WritePersonasXLSX round-trip and hand-made sheets need only the
// Company and Name columns. Rows without a company or with a placeholder
// name are skipped.
func ReadPersonasXLSX(path string) ([]PersonaRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	cols := make(map[string]int)
	for i, cell := range sheet.Rows[0].Cells {
		cols[strings.ToLower(strings.TrimSpace(cell.String()))] = i
	}
	if _, ok := cols["company"]; !ok {
		return nil, eris.New("xlsx: missing Company column")
	}
	if _, ok := cols["name"]; !ok {
		return nil, eris.New("xlsx: missing Name column")
	}

	var out []PersonaRow
	for _, row := range sheet.Rows[1:] {
		get := func(header string) string {
			i, ok := cols[strings.ToLower(header)]
			if !ok || i >= len(row.Cells) {
				return ""
			}
			return strings.TrimSpace(row.Cells[i].String())
		}

		company := get("Company")
		name := get("Name")
		if company == "" || name == "" || parse.IsPlaceholder(name) {
			continue
		}
		out = append(out, PersonaRow{
			Company: company,
			Persona: model.Persona{
				Name:               name,
				Title:              get("Title"),
				RoleInDecision:     get("Role in Decision"),
				PainPoint:          get("Pain Point"),
				AIUseCase:          get("AI Use Case"),
				ExpectedOutcome:    get("Expected Outcome"),
				StrategicAlignment: get("Strategic Alignment"),
				ValueHook:          get("Value Hook"),
				Source:             model.PersonaSourceManual,
			},
		})
	}
	return out, nil
}
