package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermatch/recon-backend/internal/domain/model"
	"github.com/ledgermatch/recon-backend/internal/pkg/errs"
	"github.com/ledgermatch/recon-backend/internal/pkg/retry"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFolderProviderPull(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orders.json", `[
		{"order_ref": "114-222", "date": "2025-11-24T10:00:00Z", "amount_cents": 4500, "merchant": "Amazon"},
		{"order_ref": "114-333", "date": "2025-11-25T09:30:00Z", "amount_cents": 12000, "merchant": "Costco"}
	]`)
	writeFile(t, dir, "single.json", `{"order_ref": "114-444", "date": "2025-11-26T12:00:00Z", "amount_cents": 980, "merchant": "Starbucks"}`)
	writeFile(t, dir, "notes.txt", "not an export")

	p := NewFolderProvider(dir, false, nil)
	got, err := p.Pull(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	for _, rec := range got {
		assert.Equal(t, model.SourceKindFolder, rec.SourceKind)
		assert.NotEmpty(t, rec.ID)
		assert.NotEmpty(t, rec.ContentHash)
	}
}

func TestFolderProviderSinceFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "orders.json", `[
		{"order_ref": "old", "date": "2025-10-01T00:00:00Z", "amount_cents": 100, "merchant": "A"},
		{"order_ref": "new", "date": "2025-11-25T00:00:00Z", "amount_cents": 200, "merchant": "B"}
	]`)

	p := NewFolderProvider(dir, false, nil)
	got, err := p.Pull(context.Background(), time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].OrderRef)
}

func TestFolderProviderDedupesByContentHash(t *testing.T) {
	dir := t.TempDir()
	record := `{"order_ref": "114-222", "date": "2025-11-24T10:00:00Z", "amount_cents": 4500, "merchant": "Amazon"}`
	writeFile(t, dir, "a.json", record)
	writeFile(t, dir, "b.json", record)

	p := NewFolderProvider(dir, false, nil)
	got, err := p.Pull(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1, "same export dropped twice must not double-count")
}

func TestFolderProviderSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.json", `{"order_ref": "broken"`)
	writeFile(t, dir, "good.json", `{"order_ref": "ok", "date": "2025-11-24T10:00:00Z", "amount_cents": 100, "merchant": "A"}`)

	p := NewFolderProvider(dir, false, nil)
	got, err := p.Pull(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].OrderRef)
}

func TestFolderProviderMissingDir(t *testing.T) {
	p := NewFolderProvider("/nonexistent/exports", false, nil)
	_, err := p.Pull(context.Background(), time.Time{})
	require.Error(t, err)

	var ingest *errs.IngestionError
	require.ErrorAs(t, err, &ingest)
	assert.Equal(t, "folder", ingest.Provider)
}

func TestManualProviderMissingFileIsEmpty(t *testing.T) {
	p := NewManualProvider(filepath.Join(t.TempDir(), "staged.json"), nil)
	got, err := p.Pull(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestManualProviderImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "staged.json", `[{"order_ref": "m-1", "date": "2025-11-24T10:00:00Z", "amount_cents": 3100, "merchant": "Target"}]`)

	p := NewManualProvider(filepath.Join(dir, "staged.json"), nil)
	got, err := p.Pull(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.SourceKindManual, got[0].SourceKind)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRemoteProviderPull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/records", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"order_ref": "r-1", "date": "2025-11-24T10:00:00Z", "amount_cents": 2750, "merchant": "DoorDash"}]`))
	}))
	defer server.Close()

	p := NewRemoteProvider(server.URL, "secret", true, fastPolicy(), nil)
	got, err := p.Pull(context.Background(), time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.SourceKindRemote, got[0].SourceKind)
}

func TestRemoteProviderAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewRemoteProvider(server.URL, "bad-key", true, fastPolicy(), nil)
	_, err := p.Pull(context.Background(), time.Time{})
	require.ErrorIs(t, err, errs.ErrAuth)
}

func TestRemoteProviderServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewRemoteProvider(server.URL, "key", true, fastPolicy(), nil)
	_, err := p.Pull(context.Background(), time.Time{})
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}

func TestRegistryOrdered(t *testing.T) {
	reg := NewRegistry(nil)
	folder := NewFolderProvider(t.TempDir(), false, nil)
	manual := NewManualProvider("unused.json", nil)
	require.NoError(t, reg.Register(folder))
	require.NoError(t, reg.Register(manual))

	require.Error(t, reg.Register(folder), "duplicate registration rejected")

	ordered := reg.Ordered([]string{"manual", "folder", "remote"})
	require.Len(t, ordered, 2)
	assert.Equal(t, "manual", ordered[0].Name())
	assert.Equal(t, "folder", ordered[1].Name())

	got, err := reg.Get("folder")
	require.NoError(t, err)
	assert.Equal(t, "folder", got.Name())

	_, err = reg.Get("remote")
	require.Error(t, err)
}
