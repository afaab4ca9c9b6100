// Package notion publishes research reports to a Notion database.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultRPS is Notion's documented average request rate per integration.
const DefaultRPS = 3

// MaxChildren is the most blocks Notion accepts in one create or append
// request.
const MaxChildren = 100

// Client is the slice of the Notion API the report sync needs.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
	AppendBlocks(ctx context.Context, blockID string, children []notionapi.Block) error
}

// ClientOption configures a Client built by NewClient.
type ClientOption func(*apiClient)

// WithRateLimit replaces the default throttle. A non-positive rps disables
// throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *apiClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type apiClient struct {
	api     *notionapi.Client
	limiter *rate.Limiter
}

// NewClient returns a Client authenticated with an integration token and
// throttled to DefaultRPS.
func NewClient(token string, opts ...ClientOption) Client {
	c := &apiClient{
		api:     notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(DefaultRPS, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *apiClient) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return eris.Wrap(c.limiter.Wait(ctx), "notion: rate limit")
}

// call waits for the throttle, then runs fn and wraps its error with op.
func call[T any](ctx context.Context, c *apiClient, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := c.throttle(ctx); err != nil {
		return zero, err
	}
	v, err := fn()
	if err != nil {
		return zero, eris.Wrap(err, "notion: "+op)
	}
	return v, nil
}

func (c *apiClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return call(ctx, c, "query database "+dbID, func() (*notionapi.DatabaseQueryResponse, error) {
		return c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (c *apiClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "create page", func() (*notionapi.Page, error) {
		return c.api.Page.Create(ctx, req)
	})
}

func (c *apiClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "update page "+pageID, func() (*notionapi.Page, error) {
		return c.api.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
}

// AppendBlocks adds children to the end of a page or block, splitting them
// into requests of at most MaxChildren.
func (c *apiClient) AppendBlocks(ctx context.Context, blockID string, children []notionapi.Block) error {
	for _, batch := range Batches(children, MaxChildren) {
		_, err := call(ctx, c, "append blocks to "+blockID, func() (*notionapi.AppendBlockChildrenResponse, error) {
			return c.api.Block.AppendChildren(ctx, notionapi.BlockID(blockID), &notionapi.AppendBlockChildrenRequest{Children: batch})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Batches splits blocks into consecutive runs of at most size.
func Batches(blocks []notionapi.Block, size int) [][]notionapi.Block {
	if size <= 0 {
		size = MaxChildren
	}
	var out [][]notionapi.Block
	for len(blocks) > size {
		out = append(out, blocks[:size])
		blocks = blocks[size:]
	}
	if len(blocks) > 0 {
		out = append(out, blocks)
	}
	return out
}
