package mfapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/maestro/internal/clientdata"
	"github.com/aristath/maestro/internal/clients"
	testingpkg "github.com/aristath/maestro/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const navBody = `{"meta":{"scheme_name":"Parag Parikh Flexi Cap Fund"},"status":"SUCCESS",
"data":[{"date":"04-06-2024","nav":"72.50"},{"date":"03-06-2024","nav":"71.90"},{"date":"bogus","nav":"1"},{"date":"31-05-2024","nav":"70.10"}]}`

func TestIsSchemeCode(t *testing.T) {
	assert.True(t, IsSchemeCode("119551"))
	assert.False(t, IsSchemeCode("NSE:TCS"))
	assert.False(t, IsSchemeCode(""))
}

func TestNAVHistory_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mf/119551", r.URL.Path)
		_, _ = w.Write([]byte(navBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, time.Hour, zerolog.Nop())
	scheme, err := client.NAVHistory(context.Background(), "119551")
	require.NoError(t, err)

	assert.Equal(t, "Parag Parikh Flexi Cap Fund", scheme.Name)
	require.Len(t, scheme.NAV, 3)
	assert.Equal(t, 70.10, scheme.NAV[0].Close, "sorted oldest first")
	assert.Equal(t, 72.50, scheme.NAV[2].Close)
	assert.Equal(t, scheme.NAV[2].Close, scheme.NAV[2].High)
}

func TestNAVHistory_UnknownScheme(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"meta":{},"status":"SUCCESS","data":[]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, time.Hour, zerolog.Nop())
	_, err := client.NAVHistory(context.Background(), "999999")
	assert.ErrorIs(t, err, clients.ErrNotFound)
}

func TestNAVHistory_CacheAndStaleFallback(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "cache")
	defer cleanup()
	repo := clientdata.NewRepository(db)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(navBody))
	}))
	defer server.Close()

	ctx := context.Background()
	client := NewClient(server.URL, repo, time.Hour, zerolog.Nop())
	_, err := client.NAVHistory(ctx, "119551")
	require.NoError(t, err)

	cached, err := client.NAVHistory(ctx, "119551")
	require.NoError(t, err)
	assert.Len(t, cached.NAV, 3)
	assert.Equal(t, int32(1), calls.Load())

	// Expire the entry; the failing upstream falls back to it
	repo.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	stale, err := client.NAVHistory(ctx, "119551")
	require.NoError(t, err)
	assert.Len(t, stale.NAV, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNAVHistory_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, time.Hour, zerolog.Nop())
	_, err := client.NAVHistory(context.Background(), "119551")

	var statusErr *clients.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}
