// Package salesforce pushes researched accounts and their decision makers
// into Salesforce over the REST API, authenticating with the JWT bearer flow.
package salesforce

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// maxBatchSize is the Collections API record limit per request.
const maxBatchSize = 200

// Client is the slice of the Salesforce REST API the account sync needs.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error)
	InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error)
	UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error
}

// CollectionResult is the outcome for one record of a collection insert.
type CollectionResult struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// ClientOption configures a Client built by NewClient or Connect.
type ClientOption func(*restClient)

// WithRateLimit throttles API calls to rps, with a burst of its integer
// part. A non-positive rps disables throttling.
func WithRateLimit(rps float64) ClientOption {
	return func(c *restClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// restClient adapts go-salesforce to Client. The library takes no context,
// so ctx only bounds the throttle wait.
type restClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an initialized go-salesforce session.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &restClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect authenticates as username through the connected app clientID,
// signing the JWT assertion with privateKeyPEM.
func Connect(loginURL, username, clientID, privateKeyPEM string, opts ...ClientOption) (Client, error) {
	if username == "" || clientID == "" || privateKeyPEM == "" {
		return nil, eris.New("sf: username, client id and private key are required")
	}
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         loginURL,
		Username:       username,
		ConsumerKey:    clientID,
		ConsumerRSAPem: privateKeyPEM,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sf: jwt login as %s", username)
	}
	return NewClient(sf, opts...), nil
}

func (c *restClient) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return eris.Wrap(c.limiter.Wait(ctx), "sf: rate limit")
}

func (c *restClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	return eris.Wrap(c.sf.Query(soql, out), "sf: query")
}

func (c *restClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if err := c.throttle(ctx); err != nil {
		return "", err
	}
	res, err := c.sf.InsertOne(sObjectName, record)
	if err != nil {
		return "", eris.Wrapf(err, "sf: insert %s", sObjectName)
	}
	if !res.Success {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Message)
		}
		return "", eris.Errorf("sf: insert %s rejected: %s", sObjectName, strings.Join(msgs, "; "))
	}
	return res.Id, nil
}

func (c *restClient) InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	res, err := c.sf.InsertCollection(sObjectName, records, maxBatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "sf: insert %d %s records", len(records), sObjectName)
	}

	out := make([]CollectionResult, 0, len(res.Results))
	for _, r := range res.Results {
		cr := CollectionResult{ID: r.Id, Success: r.Success}
		for _, e := range r.Errors {
			cr.Errors = append(cr.Errors, e.Message)
		}
		out = append(out, cr)
	}
	return out, nil
}

// UpdateOne patches the record id. fields is not modified.
func (c *restClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	record := maps.Clone(fields)
	if record == nil {
		record = map[string]any{}
	}
	record["Id"] = id
	if err := c.sf.UpdateOne(sObjectName, record); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update %s %s", sObjectName, id))
	}
	return nil
}
