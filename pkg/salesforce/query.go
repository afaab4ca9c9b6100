package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Account represents a Salesforce Account record.
type Account struct {
	ID       string `json:"Id" salesforce:"Id"`
	Name     string `json:"Name" salesforce:"Name"`
	Website  string `json:"Website" salesforce:"Website"`
	Industry string `json:"Industry" salesforce:"Industry"`
}

// Contact represents a Salesforce Contact record.
type Contact struct {
	ID        string `json:"Id" salesforce:"Id"`
	FirstName string `json:"FirstName" salesforce:"FirstName"`
	LastName  string `json:"LastName" salesforce:"LastName"`
	Title     string `json:"Title" salesforce:"Title"`
	AccountID string `json:"AccountId" salesforce:"AccountId"`
}

// FullName joins the first and last name.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// FindAccountByName queries Salesforce for an Account with the exact name.
// Returns nil if no account is found.
func FindAccountByName(ctx context.Context, c Client, name string) (*Account, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name, Website, Industry FROM Account WHERE Name = '%s' LIMIT 1",
		escapeSoql(name),
	)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find account by name %s", name))
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

// FindContacts returns every Contact linked to the account.
func FindContacts(ctx context.Context, c Client, accountID string) ([]Contact, error) {
	soql := fmt.Sprintf(
		"SELECT Id, FirstName, LastName, Title, AccountId FROM Contact WHERE AccountId = '%s'",
		escapeSoql(accountID),
	)

	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find contacts for account %s", accountID))
	}
	return contacts, nil
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals.
func escapeSoql(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
