package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches all pages from a Notion database, handling pagination.
// Rate limiting is enforced by the Client (3 req/s by default).
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	var all []notionapi.Page

	req := &notionapi.DatabaseQueryRequest{}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}

	for {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}
		all = append(all, resp.Results...)
		if !resp.HasMore {
			break
		}
		next := *req
		next.StartCursor = resp.NextCursor
		req = &next
	}

	return all, nil
}

// FindPageByTitle returns the first page whose title property equals title,
// or nil when none matches.
func FindPageByTitle(ctx context.Context, c Client, dbID, titleProperty, title string) (*notionapi.Page, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: titleProperty,
			RichText: &notionapi.TextFilterCondition{
				Equals: title,
			},
		},
		PageSize: 1,
	}
	resp, err := c.QueryDatabase(ctx, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "notion: find page by title")
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	page := resp.Results[0]
	return &page, nil
}
