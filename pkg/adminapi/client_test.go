package adminapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/voc-classifier/internal/resilience"
)

const listingBody = `{
  "success": true,
  "message": "ok",
  "data": {
    "columns": ["id", "name", "created_at", "updated_at"],
    "rows": [
      {"id": "23515d46", "name": "이용내역 안내", "created_at": "2024-01-01T00:00:00", "updated_at": "2024-01-01T00:00:00"},
      {"id": "235166ea", "name": "도난/분실 신청/해제", "created_at": "2024-01-01T00:00:00", "updated_at": "2024-01-02T00:00:00"}
    ],
    "totalCount": 2
  }
}`

func TestListCategories_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/admin/consulting_category", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(listingBody))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL + "/"))
	page, err := client.ListCategories(context.Background())

	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, "235166ea", page.Rows[1].ID)
	assert.Equal(t, "도난/분실 신청/해제", page.Rows[1].Name)
	assert.Equal(t, []string{"id", "name", "created_at", "updated_at"}, page.Columns)
}

func TestListCategories_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`maintenance`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.ListCategories(context.Background())

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "503")
}

func TestListCategories_SuccessFalse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "message": "permission denied", "data": null}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.ListCategories(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestListCategories_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>oops</html>`},
		{name: "missing data", body: `{"success": true, "message": "ok"}`},
		{name: "null data", body: `{"success": true, "data": null}`},
		{name: "rows wrong type", body: `{"success": true, "data": {"rows": "nope"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(WithBaseURL(srv.URL)).ListCategories(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestListCategories_EmptyRowsIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "data": {"rows": [], "totalCount": 0}}`))
	}))
	defer srv.Close()

	page, err := NewClient(WithBaseURL(srv.URL)).ListCategories(context.Background())
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
}

func TestListCategories_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(listingBody))
	}))
	defer srv.Close()

	client := NewClient(
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}),
	)
	_, err := client.ListCategories(context.Background())

	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.False(t, errors.Is(err, ErrMalformed))
}

func TestListCategories_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(listingBody))
	}))
	defer srv.Close()

	client := NewClient(
		WithBaseURL(srv.URL),
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}),
	)
	page, err := client.ListCategories(context.Background())

	require.NoError(t, err)
	assert.Len(t, page.Rows, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListCategories_PermanentStatusNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(
		WithBaseURL(srv.URL),
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}),
	)
	_, err := client.ListCategories(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}
