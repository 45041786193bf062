package clientdata

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aristath/maestro/internal/database"
	testingpkg "github.com/aristath/maestro/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) (*Repository, *database.DB) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	t.Cleanup(cleanup)
	return NewRepository(db), db
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo, db := setupTestRepo(t)
	ctx := context.Background()

	data := map[string]interface{}{"code": "NSE:TCS", "closes": []float64{3800, 3812.5}}
	require.NoError(t, repo.Store(ctx, TableYahooChart, "NSE:TCS", data, time.Hour))

	var expiresAt int64
	require.NoError(t, db.QueryRowContext(ctx, "SELECT expires_at FROM yahoo_chart WHERE code = ?", "NSE:TCS").Scan(&expiresAt))
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), expiresAt, 5)

	raw, err := repo.GetIfFresh(ctx, TableYahooChart, "NSE:TCS")
	require.NoError(t, err)
	require.NotNil(t, raw)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, "NSE:TCS", parsed["code"])
}

func TestGetIfFresh_Expired(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, TableMFAPINav, "119551", []float64{1, 2}, time.Hour))

	repo.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	raw, err := repo.GetIfFresh(ctx, TableMFAPINav, "119551")
	require.NoError(t, err)
	assert.Nil(t, raw)

	// Stale entries remain readable as a fallback
	raw, err = repo.Get(ctx, TableMFAPINav, "119551")
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(raw))
}

func TestGet_Missing(t *testing.T) {
	repo, _ := setupTestRepo(t)

	raw, err := repo.Get(context.Background(), TableLLMResponses, "nope")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestStore_Upserts(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, TableLLMResponses, "hash-1", "first", time.Hour))
	require.NoError(t, repo.Store(ctx, TableLLMResponses, "hash-1", "second", time.Hour))

	raw, err := repo.GetIfFresh(ctx, TableLLMResponses, "hash-1")
	require.NoError(t, err)
	assert.JSONEq(t, `"second"`, string(raw))
}

func TestInvalidTable(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	assert.Error(t, repo.Store(ctx, "runs; DROP TABLE runs", "k", 1, time.Hour))
	_, err := repo.Get(ctx, "snapshots", "k")
	assert.Error(t, err)
	_, err = repo.DeleteExpired(ctx, "recommendations")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, TableYahooChart, "NSE:INFY", 1, time.Hour))
	require.NoError(t, repo.Delete(ctx, TableYahooChart, "NSE:INFY"))

	raw, err := repo.Get(ctx, TableYahooChart, "NSE:INFY")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestCleanupJob(t *testing.T) {
	repo, db := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, TableYahooChart, "expired", 1, -time.Hour))
	require.NoError(t, repo.Store(ctx, TableYahooChart, "fresh", 1, time.Hour))
	require.NoError(t, repo.Store(ctx, TableMFAPINav, "expired", 1, -time.Hour))
	require.NoError(t, repo.Store(ctx, TableLLMResponses, "fresh", 1, time.Hour))

	job := NewCleanupJob(repo, zerolog.Nop())
	assert.Equal(t, "cache_cleanup", job.Name())
	require.NoError(t, job.Run())

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT (SELECT COUNT(*) FROM yahoo_chart) + (SELECT COUNT(*) FROM mfapi_nav) + (SELECT COUNT(*) FROM llm_responses)",
	).Scan(&count))
	assert.Equal(t, 2, count)

	// Empty tables are fine
	require.NoError(t, job.Run())
}
