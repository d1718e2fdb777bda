package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/pkg/errs"
	"github.com/ledgermatch/recon-backend/internal/pkg/retry"
)

// RemoteProvider pulls purchase records from a remote automation
// endpoint (for example, an inbox scraper exposing its results over
// HTTP). Transport failures are retried per the configured policy;
// authentication failures abort immediately.
type RemoteProvider struct {
	baseURL    string
	apiKey     string
	allowEmpty bool
	client     *retryablehttp.Client
	logger     *slog.Logger
}

// NewRemoteProvider returns a provider for the given endpoint.
func NewRemoteProvider(baseURL, apiKey string, allowEmpty bool, policy retry.Policy, logger *slog.Logger) *RemoteProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		allowEmpty: allowEmpty,
		client:     policy.NewHTTPClient(logger),
		logger:     logger,
	}
}

func (p *RemoteProvider) Name() string           { return "remote" }
func (p *RemoteProvider) Kind() model.SourceKind { return model.SourceKindRemote }
func (p *RemoteProvider) AllowEmpty() bool       { return p.allowEmpty }

func (p *RemoteProvider) Pull(ctx context.Context, since time.Time) ([]model.SourceRecord, error) {
	endpoint := p.baseURL + "/api/records"
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.Format(time.RFC3339))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &errs.IngestionError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &errs.TransientError{Op: "remote pull", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("remote provider rejected credentials (%d): %w", resp.StatusCode, errs.ErrAuth)
	case resp.StatusCode >= 500:
		return nil, &errs.TransientError{Op: "remote pull", Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &errs.IngestionError{Provider: p.Name(), Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.TransientError{Op: "remote pull", Err: err}
	}

	var records []model.SourceRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &errs.IngestionError{Provider: p.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}

	for i := range records {
		finalize(&records[i], model.SourceKindRemote)
	}
	return dedupe(records), nil
}
