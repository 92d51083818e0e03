package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/voc-classifier/internal/config"
)

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported driver "oracle"`)
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), config.StoreConfig{Driver: "sqlite", DatabaseURL: t.TempDir() + "/voc.db"})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, ok := st.(*SQLiteStore)
	assert.True(t, ok)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 100},
		{-3, 100},
		{5, 5},
		{1000, 1000},
		{5000, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampLimit(tt.in))
	}
}

func TestNormalizedFilter_DateBounds(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	f := NormalizedFilter{
		From: time.Date(2024, 2, 1, 18, 30, 0, 0, kst),
		To:   time.Date(2024, 2, 29, 23, 59, 0, 0, kst),
	}

	from, until := f.dateBounds()
	require.NotNil(t, from)
	require.NotNil(t, until)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *from)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *until)

	from, until = NormalizedFilter{}.dateBounds()
	assert.Nil(t, from)
	assert.Nil(t, until)
	assert.Zero(t, NormalizedFilter{Offset: -1}.offset())
}
