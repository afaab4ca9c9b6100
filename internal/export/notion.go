package export

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/parse"
	"github.com/noahsdonaldson/prospector/pkg/notion"
)

// titleProperty is the report database's title column.
const titleProperty = "Name"

// NotionResult summarizes one report sync.
type NotionResult struct {
	PageID  string `json:"page_id"`
	Created bool   `json:"created"`
}

// SyncNotion publishes a report to the Notion report database. An existing
// page titled with the company name has its properties updated; otherwise a
// new page is created carrying one section per completed stage.
func SyncNotion(ctx context.Context, c notion.Client, dbID string, r *model.Report) (*NotionResult, error) {
	if r == nil {
		return nil, eris.New("export: nil report")
	}
	if dbID == "" {
		return nil, eris.New("export: notion report database is not configured")
	}

	page, err := notion.FindPageByTitle(ctx, c, dbID, titleProperty, r.CompanyName)
	if err != nil {
		return nil, eris.Wrap(err, "export: notion lookup")
	}

	props := reportProperties(r)

	if page != nil {
		updated, err := c.UpdatePage(ctx, string(page.ID), &notionapi.PageUpdateRequest{Properties: props})
		if err != nil {
			return nil, eris.Wrap(err, "export: notion update")
		}
		zap.L().Info("export: updated notion page",
			zap.String("company", r.CompanyName),
			zap.String("page_id", string(updated.ID)),
		)
		return &NotionResult{PageID: string(updated.ID)}, nil
	}

	blocks := reportBlocks(r)
	first, rest := blocks, []notionapi.Block(nil)
	if len(blocks) > notion.MaxChildren {
		first, rest = blocks[:notion.MaxChildren], blocks[notion.MaxChildren:]
	}

	created, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
		Children:   first,
	})
	if err != nil {
		return nil, eris.Wrap(err, "export: notion create")
	}
	if len(rest) > 0 {
		if err := c.AppendBlocks(ctx, string(created.ID), rest); err != nil {
			return nil, eris.Wrapf(err, "export: notion append to page %s", created.ID)
		}
	}
	zap.L().Info("export: created notion page",
		zap.String("company", r.CompanyName),
		zap.String("page_id", string(created.ID)),
	)
	return &NotionResult{PageID: string(created.ID), Created: true}, nil
}

func reportProperties(r *model.Report) notionapi.Properties {
	return notionapi.Properties{
		titleProperty: notion.Title(r.CompanyName),
		"Industry":    notion.Text(r.Industry),
		"Status":      notion.Select(string(r.Status)),
		"Searches":    notion.Number(float64(r.WebSearches)),
		"Tokens":      notion.Number(float64(r.TotalTokens)),
		"Cost":        notion.Number(r.CostEstimateUSD),
	}
}

// reportBlocks renders a heading and summary paragraphs for each stored
// stage, in stage order.
func reportBlocks(r *model.Report) []notionapi.Block {
	var blocks []notionapi.Block
	for idx := model.StageStrategicObjectives; idx <= model.StageOutreachEmail; idx++ {
		raw, ok := r.Steps[model.StageKeys[idx]]
		if !ok {
			continue
		}
		summary := stageSummary(raw)
		if summary == "" {
			continue
		}
		blocks = append(blocks, notion.Heading(model.StageNames[idx]))
		blocks = append(blocks, notion.Paragraphs(summary)...)
	}
	return blocks
}

// stageSummary returns the readable text of a stored stage: the raw model
// output for single-call stages, or each unit's output for the deep dive.
func stageSummary(raw json.RawMessage) string {
	var stage struct {
		Raw   string          `json:"raw"`
		Units []string        `json:"units"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &stage); err != nil {
		return ""
	}
	if stage.Raw != "" {
		return parse.StripMarkdown(stage.Raw)
	}
	if len(stage.Units) == 0 {
		return ""
	}

	var units map[string]struct {
		Raw string `json:"raw"`
	}
	if err := json.Unmarshal(stage.Data, &units); err != nil {
		return ""
	}
	var parts []string
	for _, name := range stage.Units {
		if text := parse.StripMarkdown(units[name].Raw); text != "" {
			parts = append(parts, name+"\n\n"+text)
		}
	}
	return strings.Join(parts, "\n\n")
}
