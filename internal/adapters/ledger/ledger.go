// Package ledger talks to the external financial ledger: fetching
// unreconciled entries at the start of a run and applying category and
// split updates after selection.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/pkg/errs"
	"github.com/ledgermatch/recon-backend/internal/pkg/retry"
)

// Provider is the engine's view of the external ledger.
type Provider interface {
	// PullUnreconciled fetches uncleared, unreconciled entries,
	// optionally filtered to one account.
	PullUnreconciled(ctx context.Context, accountFilter string) ([]model.LedgerEntry, error)

	// ApplyUpdate pushes a category or split update for one entry.
	// Never called during dry runs.
	ApplyUpdate(ctx context.Context, ledgerID string, update model.LedgerUpdate) error
}

// Client is the HTTP implementation of Provider.
type Client struct {
	baseURL      string
	apiKey       string
	accountTypes map[string]string
	client       *retryablehttp.Client
	logger       *slog.Logger
}

// NewClient returns a ledger client. accountTypes maps account ids to
// their payment type ("credit", "debit") and is stamped onto fetched
// entries for the scorer's account-type bonus.
func NewClient(baseURL, apiKey string, accountTypes map[string]string, policy retry.Policy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		accountTypes: accountTypes,
		client:       policy.NewHTTPClient(logger),
		logger:       logger,
	}
}

func (c *Client) PullUnreconciled(ctx context.Context, accountFilter string) ([]model.LedgerEntry, error) {
	endpoint := c.baseURL + "/api/entries?cleared=false"
	if accountFilter != "" {
		endpoint += "&account_id=" + url.QueryEscape(accountFilter)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &errs.TransientError{Op: "ledger pull", Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus("ledger pull", resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.TransientError{Op: "ledger pull", Err: err}
	}

	var entries []model.LedgerEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding ledger entries: %w", err)
	}

	for i := range entries {
		if entries[i].AccountType == "" {
			entries[i].AccountType = c.accountTypes[entries[i].AccountID]
		}
	}
	return entries, nil
}

func (c *Client) ApplyUpdate(ctx context.Context, ledgerID string, update model.LedgerUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encoding update for %s: %w", ledgerID, err)
	}

	endpoint := c.baseURL + "/api/entries/" + url.PathEscape(ledgerID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &errs.TransientError{Op: "ledger update", Err: err}
	}
	defer resp.Body.Close()

	return c.checkStatus("ledger update", resp)
}

func (c *Client) authorize(req *retryablehttp.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s rejected credentials (%d): %w", op, resp.StatusCode, errs.ErrAuth)
	case resp.StatusCode >= 500:
		return &errs.TransientError{Op: op, Err: fmt.Errorf("ledger returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s failed with status %d", op, resp.StatusCode)
	}
	return nil
}
