// Package export pushes saved reports to external systems: Salesforce,
// Notion and spreadsheet files.
package export

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/pkg/salesforce"
)

// salesforceRPS keeps sync traffic well under the org's API allocation.
const salesforceRPS = 5

// SalesforceResult summarizes one report sync.
type SalesforceResult struct {
	AccountID       string `json:"account_id"`
	AccountCreated  bool   `json:"account_created"`
	IndustryUpdated bool   `json:"industry_updated"`
	Created         int    `json:"contacts_created"`
	Skipped         int    `json:"contacts_skipped"`
	Failed          int    `json:"contacts_failed"`
}

// ConnectSalesforce authenticates with the JWT bearer flow using the private
// key at cfg.KeyPath.
func ConnectSalesforce(cfg config.SalesforceConfig) (salesforce.Client, error) {
	pem, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, eris.Wrapf(err, "export: read salesforce key %s", cfg.KeyPath)
	}
	return salesforce.Connect(cfg.LoginURL, cfg.Username, cfg.ClientID, string(pem),
		salesforce.WithRateLimit(salesforceRPS))
}

// SyncSalesforce pushes a report's company and personas to Salesforce. The
// Account is matched by name and created when missing. Its industry is only
// written when Salesforce has none. Personas that already exist as contacts
// on the account are skipped.
func SyncSalesforce(ctx context.Context, c salesforce.Client, r *model.Report) (*SalesforceResult, error) {
	if r == nil {
		return nil, eris.New("export: nil report")
	}
	log := zap.L().With(zap.String("company", r.CompanyName), zap.Int64("report_id", r.ID))
	res := &SalesforceResult{}

	acct, err := salesforce.FindAccountByName(ctx, c, r.CompanyName)
	if err != nil {
		return nil, eris.Wrap(err, "export: salesforce account lookup")
	}

	if acct == nil {
		fields := map[string]any{"Name": r.CompanyName}
		if r.Industry != "" {
			fields["Industry"] = r.Industry
		}
		id, err := salesforce.CreateAccount(ctx, c, fields)
		if err != nil {
			return nil, eris.Wrap(err, "export: salesforce create account")
		}
		res.AccountID = id
		res.AccountCreated = true
		log.Info("export: created salesforce account", zap.String("account_id", id))
	} else {
		res.AccountID = acct.ID
		if acct.Industry == "" && r.Industry != "" {
			if err := salesforce.UpdateAccount(ctx, c, acct.ID, map[string]any{"Industry": r.Industry}); err != nil {
				return nil, eris.Wrap(err, "export: salesforce update industry")
			}
			res.IndustryUpdated = true
		}
	}

	existing := make(map[string]bool)
	if !res.AccountCreated {
		contacts, err := salesforce.FindContacts(ctx, c, res.AccountID)
		if err != nil {
			return nil, eris.Wrap(err, "export: salesforce contact lookup")
		}
		for _, ct := range contacts {
			existing[nameKey(ct.FullName())] = true
		}
	}

	var records []map[string]any
	for _, p := range r.Personas {
		key := nameKey(p.Name)
		if key == "" || existing[key] {
			res.Skipped++
			continue
		}
		existing[key] = true
		records = append(records, contactRecord(p))
	}

	results, err := salesforce.CreateContacts(ctx, c, res.AccountID, records)
	for _, cr := range results {
		if cr.Success {
			res.Created++
		} else {
			res.Failed++
			log.Warn("export: salesforce contact rejected", zap.Strings("errors", cr.Errors))
		}
	}
	if err != nil {
		return res, eris.Wrap(err, "export: salesforce create contacts")
	}

	log.Info("export: salesforce sync complete",
		zap.String("account_id", res.AccountID),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func contactRecord(p model.Persona) map[string]any {
	first, last := splitName(p.Name)
	rec := map[string]any{"LastName": last}
	if first != "" {
		rec["FirstName"] = first
	}
	if p.Title != "" {
		rec["Title"] = p.Title
	}
	if desc := contactDescription(p); desc != "" {
		rec["Description"] = desc
	}
	return rec
}

func contactDescription(p model.Persona) string {
	var lines []string
	for _, f := range []struct{ label, value string }{
		{"Role in decision", p.RoleInDecision},
		{"Pain point", p.PainPoint},
		{"AI use case", p.AIUseCase},
		{"Value hook", p.ValueHook},
	} {
		if f.value != "" {
			lines = append(lines, f.label+": "+f.value)
		}
	}
	return strings.Join(lines, "\n")
}

// splitName splits a full name into first and last. A single word is
// treated as the last name since Contact.LastName is required.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
