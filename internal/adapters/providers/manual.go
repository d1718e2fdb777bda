package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/pkg/errs"
)

// ManualProvider imports one manually exported JSON file. Unlike the
// folder provider a missing file is fine, it just means nothing was
// staged for import this run.
type ManualProvider struct {
	path   string
	logger *slog.Logger
}

// NewManualProvider returns a provider importing the given file.
func NewManualProvider(path string, logger *slog.Logger) *ManualProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManualProvider{path: path, logger: logger}
}

func (p *ManualProvider) Name() string           { return "manual" }
func (p *ManualProvider) Kind() model.SourceKind { return model.SourceKindManual }
func (p *ManualProvider) AllowEmpty() bool       { return true }

func (p *ManualProvider) Pull(ctx context.Context, since time.Time) ([]model.SourceRecord, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	records, err := decodeRecordFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.logger.Debug("no manual import staged", slog.String("path", p.path))
			return nil, nil
		}
		return nil, &errs.IngestionError{Provider: p.Name(), Err: fmt.Errorf("reading %s: %w", p.path, err)}
	}

	kept := records[:0:len(records)]
	for _, rec := range records {
		if !since.IsZero() && rec.Date.Before(since) {
			continue
		}
		finalize(&rec, model.SourceKindManual)
		kept = append(kept, rec)
	}
	return dedupe(kept), nil
}
