package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := NewClient(time.Second).GetJSON(context.Background(), srv.URL, nil, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorsAreFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte("card_declined"))
	}))
	defer srv.Close()

	err := NewClient(time.Second).GetJSON(context.Background(), srv.URL, nil, nil)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusPaymentRequired, status.Code)
	assert.Equal(t, "card_declined", status.Body)
	assert.Equal(t, int32(1), calls.Load(), "4xx answers are not retried")
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(time.Second).GetJSON(context.Background(), srv.URL, nil, nil)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusInternalServerError, status.Code)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestClient_SendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := NewClient(time.Second).PostJSON(context.Background(), srv.URL, bearer("sk_test"), map[string]any{"a": 1}, nil)
	require.NoError(t, err)
}

func TestTokenSource(t *testing.T) {
	fetches := 0
	ts := NewTokenSource(func(context.Context) (string, time.Time, error) {
		fetches++
		return "tok-1", time.Now().Add(time.Hour), nil
	})

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// Cached until expiry.
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)

	// Invalidation forces a refetch.
	ts.Invalidate()
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestTokenSource_RefreshesNearExpiry(t *testing.T) {
	fetches := 0
	ts := NewTokenSource(func(context.Context) (string, time.Time, error) {
		fetches++
		// Expires within the one minute refresh window.
		return "tok", time.Now().Add(30 * time.Second), nil
	})

	_, err := ts.Token(context.Background())
	require.NoError(t, err)
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches, "near-expiry tokens are not reused")
}

func TestTokenSource_FetchError(t *testing.T) {
	ts := NewTokenSource(func(context.Context) (string, time.Time, error) {
		return "", time.Time{}, errors.New("gateway down")
	})

	_, err := ts.Token(context.Background())
	assert.Error(t, err)
}
