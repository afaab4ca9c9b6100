package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// UpdateAccount updates an Account record with the given fields.
func UpdateAccount(ctx context.Context, c Client, accountID string, fields map[string]any) error {
	if accountID == "" {
		return eris.New("sf: account id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Account", accountID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update account %s", accountID))
	}
	return nil
}

// CreateAccount creates a new Account record and returns the new Salesforce ID.
func CreateAccount(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if fields["Name"] == nil || fields["Name"] == "" {
		return "", eris.New("sf: account Name is required")
	}
	id, err := c.InsertOne(ctx, "Account", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create account")
	}
	return id, nil
}

// CreateContacts inserts Contact records linked to the account in batches of
// maxBatchSize and returns one result per record.
func CreateContacts(ctx context.Context, c Client, accountID string, records []map[string]any) ([]CollectionResult, error) {
	if accountID == "" {
		return nil, eris.New("sf: account id is required for contact")
	}
	if len(records) == 0 {
		return nil, nil
	}

	var all []CollectionResult
	for start := 0; start < len(records); start += maxBatchSize {
		end := min(start+maxBatchSize, len(records))
		batch := records[start:end]
		for _, r := range batch {
			r["AccountId"] = accountID
		}
		results, err := c.InsertCollection(ctx, "Contact", batch)
		if err != nil {
			return all, eris.Wrap(err, fmt.Sprintf("sf: create contacts batch %d-%d", start, end))
		}
		all = append(all, results...)
	}
	return all, nil
}
