package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/pkg/errs"
)

// FolderProvider reads purchase exports dropped as JSON files into a
// watched directory. Each file holds either a single record or an
// array of records.
type FolderProvider struct {
	path       string
	allowEmpty bool
	logger     *slog.Logger
}

// NewFolderProvider returns a provider reading from the given directory.
func NewFolderProvider(path string, allowEmpty bool, logger *slog.Logger) *FolderProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FolderProvider{path: path, allowEmpty: allowEmpty, logger: logger}
}

func (p *FolderProvider) Name() string           { return "folder" }
func (p *FolderProvider) Kind() model.SourceKind { return model.SourceKindFolder }
func (p *FolderProvider) AllowEmpty() bool       { return p.allowEmpty }

// Pull reads every .json file in the folder, skipping records dated
// before since. Unreadable files are logged and skipped; a missing
// folder is an ingestion error.
func (p *FolderProvider) Pull(ctx context.Context, since time.Time) ([]model.SourceRecord, error) {
	entries, err := os.ReadDir(p.path)
	if err != nil {
		return nil, &errs.IngestionError{Provider: p.Name(), Err: fmt.Errorf("reading folder %s: %w", p.path, err)}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var records []model.SourceRecord
	for _, name := range names {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fileRecords, err := decodeRecordFile(filepath.Join(p.path, name))
		if err != nil {
			p.logger.Warn("skipping unreadable export file",
				slog.String("provider", p.Name()),
				slog.String("file", name),
				slog.String("error", err.Error()))
			continue
		}
		records = append(records, fileRecords...)
	}

	kept := records[:0:len(records)]
	for _, rec := range records {
		if !since.IsZero() && rec.Date.Before(since) {
			continue
		}
		finalize(&rec, model.SourceKindFolder)
		kept = append(kept, rec)
	}
	return dedupe(kept), nil
}

// decodeRecordFile accepts either one record object or an array.
func decodeRecordFile(path string) ([]model.SourceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var records []model.SourceRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var rec model.SourceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return []model.SourceRecord{rec}, nil
}
