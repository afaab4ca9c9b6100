package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// mockClient implements Client for testing.
type mockClient struct {
	queryFn            func(ctx context.Context, soql string, out any) error
	insertOneFn        func(ctx context.Context, sObjectName string, record map[string]any) (string, error)
	insertCollectionFn func(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error)
	updateOneFn        func(ctx context.Context, sObjectName string, id string, fields map[string]any) error
}

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	if m.queryFn != nil {
		return m.queryFn(ctx, soql, out)
	}
	return nil
}

func (m *mockClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if m.insertOneFn != nil {
		return m.insertOneFn(ctx, sObjectName, record)
	}
	return "001000000000001", nil
}

func (m *mockClient) InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]CollectionResult, error) {
	if m.insertCollectionFn != nil {
		return m.insertCollectionFn(ctx, sObjectName, records)
	}
	results := make([]CollectionResult, len(records))
	for i := range records {
		results[i] = CollectionResult{ID: fmt.Sprintf("003%03d", i), Success: true}
	}
	return results, nil
}

func (m *mockClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	if m.updateOneFn != nil {
		return m.updateOneFn(ctx, sObjectName, id, fields)
	}
	return nil
}

// decodeInto mimics go-salesforce decoding query records into out.
func decodeInto(t *testing.T, records any, out any) {
	t.Helper()
	b, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

func TestMockClientImplementsInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*mockClient)(nil)
	var _ Client = (*restClient)(nil)
}

func TestWithRateLimit(t *testing.T) {
	c := &restClient{}
	WithRateLimit(5)(c)
	require.NotNil(t, c.limiter)
	assert.Equal(t, rate.Limit(5), c.limiter.Limit())
	assert.Equal(t, 5, c.limiter.Burst())

	c2 := &restClient{}
	WithRateLimit(0)(c2)
	assert.Nil(t, c2.limiter)

	c3 := &restClient{}
	WithRateLimit(0.5)(c3)
	assert.Equal(t, 1, c3.limiter.Burst())
}

func TestWait_Canceled(t *testing.T) {
	c := &restClient{limiter: rate.NewLimiter(rate.Every(time.Hour), 1)}
	require.NoError(t, c.throttle(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.throttle(ctx))
}

func TestFindAccountByName(t *testing.T) {
	var gotSOQL string
	mc := &mockClient{queryFn: func(_ context.Context, soql string, out any) error {
		gotSOQL = soql
		decodeInto(t, []map[string]any{{"Id": "001xx", "Name": "O'Brien Co", "Industry": ""}}, out)
		return nil
	}}

	acct, err := FindAccountByName(context.Background(), mc, "O'Brien Co")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, "001xx", acct.ID)
	assert.Contains(t, gotSOQL, `WHERE Name = 'O\'Brien Co'`)
}

func TestFindAccountByName_NotFound(t *testing.T) {
	acct, err := FindAccountByName(context.Background(), &mockClient{}, "Nobody")
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestFindAccountByName_Error(t *testing.T) {
	mc := &mockClient{queryFn: func(context.Context, string, any) error { return fmt.Errorf("boom") }}
	_, err := FindAccountByName(context.Background(), mc, "Acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find account by name Acme")
}

func TestFindContacts(t *testing.T) {
	mc := &mockClient{queryFn: func(_ context.Context, soql string, out any) error {
		assert.Contains(t, soql, "FROM Contact WHERE AccountId = '001xx'")
		decodeInto(t, []map[string]any{
			{"Id": "003a", "FirstName": "Jane", "LastName": "Doe", "AccountId": "001xx"},
			{"Id": "003b", "FirstName": "", "LastName": "Cher", "AccountId": "001xx"},
		}, out)
		return nil
	}}

	contacts, err := FindContacts(context.Background(), mc, "001xx")
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "Jane Doe", contacts[0].FullName())
	assert.Equal(t, "Cher", contacts[1].FullName())
}

func TestEscapeSoql(t *testing.T) {
	assert.Equal(t, `a\'b`, escapeSoql("a'b"))
	assert.Equal(t, `a\\b`, escapeSoql(`a\b`))
}

func TestUpdateAccount(t *testing.T) {
	var gotID string
	var gotFields map[string]any
	mc := &mockClient{updateOneFn: func(_ context.Context, obj, id string, fields map[string]any) error {
		assert.Equal(t, "Account", obj)
		gotID, gotFields = id, fields
		return nil
	}}

	require.NoError(t, UpdateAccount(context.Background(), mc, "001xx", map[string]any{"Industry": "Healthcare"}))
	assert.Equal(t, "001xx", gotID)
	assert.Equal(t, "Healthcare", gotFields["Industry"])

	assert.Error(t, UpdateAccount(context.Background(), mc, "", map[string]any{"Industry": "x"}))
	assert.Error(t, UpdateAccount(context.Background(), mc, "001xx", nil))
}

func TestUpdateAccount_Error(t *testing.T) {
	mc := &mockClient{updateOneFn: func(context.Context, string, string, map[string]any) error {
		return fmt.Errorf("denied")
	}}
	err := UpdateAccount(context.Background(), mc, "001xx", map[string]any{"Industry": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update account 001xx")
}

func TestCreateContacts_Batches(t *testing.T) {
	var batches []int
	mc := &mockClient{insertCollectionFn: func(_ context.Context, obj string, records []map[string]any) ([]CollectionResult, error) {
		assert.Equal(t, "Contact", obj)
		batches = append(batches, len(records))
		out := make([]CollectionResult, len(records))
		for i, r := range records {
			assert.Equal(t, "001xx", r["AccountId"])
			out[i] = CollectionResult{ID: "003", Success: true}
		}
		return out, nil
	}}

	records := make([]map[string]any, 450)
	for i := range records {
		records[i] = map[string]any{"LastName": fmt.Sprintf("Person %d", i)}
	}
	results, err := CreateContacts(context.Background(), mc, "001xx", records)
	require.NoError(t, err)
	assert.Len(t, results, 450)
	assert.Equal(t, []int{200, 200, 50}, batches)
}

func TestCreateContacts_Validation(t *testing.T) {
	_, err := CreateContacts(context.Background(), &mockClient{}, "", []map[string]any{{}})
	assert.Error(t, err)

	results, err := CreateContacts(context.Background(), &mockClient{}, "001xx", nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestCreateContacts_BatchError(t *testing.T) {
	mc := &mockClient{insertCollectionFn: func(context.Context, string, []map[string]any) ([]CollectionResult, error) {
		return nil, fmt.Errorf("quota")
	}}
	_, err := CreateContacts(context.Background(), mc, "001xx", []map[string]any{{"LastName": "Doe"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create contacts batch 0-1")
}

func TestCreateAccount(t *testing.T) {
	mc := &mockClient{insertOneFn: func(_ context.Context, obj string, rec map[string]any) (string, error) {
		assert.Equal(t, "Account", obj)
		assert.Equal(t, "Acme Corp", rec["Name"])
		return "001new", nil
	}}
	id, err := CreateAccount(context.Background(), mc, map[string]any{"Name": "Acme Corp"})
	require.NoError(t, err)
	assert.Equal(t, "001new", id)

	_, err = CreateAccount(context.Background(), mc, map[string]any{})
	assert.Error(t, err)
}
