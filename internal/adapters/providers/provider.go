// Package providers implements the pluggable ingestion side of the
// engine: each provider pulls candidate purchase records from one
// upstream source (a download folder, a manual export, a remote
// automation endpoint) and normalizes them into SourceRecords.
package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ledgermatch/recon-backend/internal/domain/model"
)

// SourceProvider pulls purchase records from one upstream source.
type SourceProvider interface {
	// Name identifies the provider in logs, errors and config priority.
	Name() string

	// Kind reports which ingestion path this provider represents.
	Kind() model.SourceKind

	// Pull returns records observed since the given time. Providers
	// must return records with ID and ContentHash populated.
	Pull(ctx context.Context, since time.Time) ([]model.SourceRecord, error)

	// AllowEmpty reports whether an empty pull is expected for this
	// provider. When false, an empty pull is surfaced as a warning
	// condition in the run result.
	AllowEmpty() bool
}

// contentHash fingerprints a record's identifying fields so re-imports
// of the same purchase dedupe across runs and providers.
func contentHash(rec model.SourceRecord) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", rec.Merchant, rec.Date.Format("2006-01-02"), rec.AmountCents, rec.OrderRef)
	return hex.EncodeToString(h.Sum(nil))
}

// finalize stamps kind, hash and a fallback id onto a decoded record.
func finalize(rec *model.SourceRecord, kind model.SourceKind) {
	rec.SourceKind = kind
	rec.ContentHash = contentHash(*rec)
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("%s-%s", kind, rec.ContentHash[:12])
	}
}

// dedupe drops records whose content hash was already seen, keeping
// first occurrence order.
func dedupe(records []model.SourceRecord) []model.SourceRecord {
	seen := make(map[string]bool, len(records))
	out := records[:0:len(records)]
	for _, rec := range records {
		if seen[rec.ContentHash] {
			continue
		}
		seen[rec.ContentHash] = true
		out = append(out, rec)
	}
	return out
}
