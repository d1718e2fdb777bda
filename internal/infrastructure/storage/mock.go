package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockRepository is an in-memory Repository for tests. Safe for
// concurrent use. The Fail* flags simulate backend outages.
type MockRepository struct {
	mu sync.Mutex

	records  []*ReconciliationRecord
	bySource map[string]*ReconciliationRecord
	byLedger map[string]*ReconciliationRecord
	profiles map[string]*MerchantProfile
	runs     []*ReconRun
	nextID   int64

	// FailHealthy makes Healthy return an error, simulating an
	// unreachable state store.
	FailHealthy bool

	// FailWrites makes every mutating call return an error.
	FailWrites bool

	// RecordMatchCalls counts RecordMatch invocations, including
	// idempotent no-ops.
	RecordMatchCalls int
}

var _ Repository = (*MockRepository)(nil)

// NewMockRepository creates an empty in-memory repository.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		bySource: make(map[string]*ReconciliationRecord),
		byLedger: make(map[string]*ReconciliationRecord),
		profiles: make(map[string]*MerchantProfile),
	}
}

func (m *MockRepository) Close() error { return nil }

func (m *MockRepository) Healthy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailHealthy {
		return errors.New("mock: state store down")
	}
	return nil
}

func (m *MockRepository) HasMatchedSource(sourceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bySource[sourceID]
	return ok, nil
}

func (m *MockRepository) HasMatchedLedger(ledgerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byLedger[ledgerID]
	return ok, nil
}

func (m *MockRepository) RecordMatch(rec *ReconciliationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordMatchCalls++
	if m.FailWrites {
		return errors.New("mock: write failed")
	}
	if rec == nil {
		return errors.New("nil reconciliation record")
	}

	if existing, ok := m.bySource[rec.SourceID]; ok {
		if existing.LedgerID == rec.LedgerID {
			return nil
		}
		return fmt.Errorf("source %s already matched to ledger %s", rec.SourceID, existing.LedgerID)
	}
	if existing, ok := m.byLedger[rec.LedgerID]; ok {
		return fmt.Errorf("ledger %s already matched to source %s", rec.LedgerID, existing.SourceID)
	}

	m.nextID++
	stored := &ReconciliationRecord{
		ID:        m.nextID,
		SourceID:  rec.SourceID,
		LedgerID:  rec.LedgerID,
		MatchedAt: rec.MatchedAt,
		Score:     rec.Score,
	}
	if stored.MatchedAt.IsZero() {
		stored.MatchedAt = time.Now().UTC()
	}

	m.records = append(m.records, stored)
	m.bySource[stored.SourceID] = stored
	m.byLedger[stored.LedgerID] = stored
	return nil
}

func (m *MockRepository) ListMatches(limit int) ([]*ReconciliationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]*ReconciliationRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *MockRepository) PrunedView(olderThanDays int) ([]*ReconciliationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	var out []*ReconciliationRecord
	for _, rec := range m.records {
		if rec.MatchedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MockRepository) Prune(olderThanDays int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return 0, errors.New("mock: write failed")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	var kept []*ReconciliationRecord
	pruned := 0
	for _, rec := range m.records {
		if rec.MatchedAt.Before(cutoff) {
			delete(m.bySource, rec.SourceID)
			delete(m.byLedger, rec.LedgerID)
			pruned++
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept
	return pruned, nil
}

func (m *MockRepository) GetProfile(merchantKey string) (*MerchantProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.profiles[merchantKey]
	if !ok {
		return nil, nil
	}

	// Copy so callers cannot mutate stored counts.
	copied := &MerchantProfile{
		MerchantKey:       profile.MerchantKey,
		CategoryCounts:    make(map[string]int, len(profile.CategoryCounts)),
		TotalObservations: profile.TotalObservations,
		MerchantType:      profile.MerchantType,
	}
	for k, v := range profile.CategoryCounts {
		copied.CategoryCounts[k] = v
	}
	return copied, nil
}

func (m *MockRepository) ListProfileKeys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.profiles))
	for key := range m.profiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MockRepository) ObserveCategory(merchantKey, categoryID, merchantType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return errors.New("mock: write failed")
	}
	if merchantKey == "" || categoryID == "" {
		return errors.New("merchant key and category id are required")
	}

	profile, ok := m.profiles[merchantKey]
	if !ok {
		profile = &MerchantProfile{
			MerchantKey:    merchantKey,
			CategoryCounts: make(map[string]int),
		}
		m.profiles[merchantKey] = profile
	}
	profile.CategoryCounts[categoryID]++
	profile.TotalObservations++
	if merchantType != "" {
		profile.MerchantType = merchantType
	}
	return nil
}

func (m *MockRepository) ResetProfile(merchantKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if profile, ok := m.profiles[merchantKey]; ok {
		profile.CategoryCounts = make(map[string]int)
		profile.TotalObservations = 0
	}
	return nil
}

func (m *MockRepository) StartRun(runUID string, dryRun, force bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return 0, errors.New("mock: write failed")
	}

	run := &ReconRun{
		ID:        int64(len(m.runs) + 1),
		RunUID:    runUID,
		StartedAt: time.Now().UTC(),
		DryRun:    dryRun,
		Force:     force,
		Status:    RunStatusRunning,
	}
	m.runs = append(m.runs, run)
	return run.ID, nil
}

func (m *MockRepository) CompleteRun(runID int64, counts RunCounts, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, run := range m.runs {
		if run.ID == runID {
			run.CompletedAt = time.Now().UTC()
			run.RunCounts = counts
			run.Status = status
			return nil
		}
	}
	return fmt.Errorf("run %d not found", runID)
}

func (m *MockRepository) ListRuns(limit int) ([]*ReconRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	out := make([]*ReconRun, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *MockRepository) GetRun(runID int64) (*ReconRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, run := range m.runs {
		if run.ID == runID {
			return run, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) Stats() (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{
		TotalRuns:      len(m.runs),
		MatchedRecords: len(m.records),
		MerchantsKnown: len(m.profiles),
	}
	for _, run := range m.runs {
		stats.TotalMatched += run.Matched
		stats.TotalSuggested += run.Suggested
		stats.TotalSplits += run.SplitProposed
		stats.TotalErrored += run.Errored
	}
	if len(m.runs) > 0 {
		stats.AvgMatchedPerRun = float64(stats.TotalMatched) / float64(len(m.runs))
	}
	return stats, nil
}
