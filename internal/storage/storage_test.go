package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RanksByScore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, score := range []int{100, 300, 200, 300, 50} {
		e := &Entry{Score: score, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.Save(ctx, e))
		assert.NotEmpty(t, e.ID)
	}

	top, err := store.Top(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []int{300, 300, 200}, []int{top[0].Score, top[1].Score, top[2].Score})
	assert.True(t, top[0].CreatedAt.Before(top[1].CreatedAt), "earlier entry wins ties")

	top, err = store.Top(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
	assert.Equal(t, 3, store.Len())
}

func TestMemoryStore_DropsUnrankedEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2)
	require.NoError(t, store.Save(ctx, &Entry{Score: 10}))
	require.NoError(t, store.Save(ctx, &Entry{Score: 20}))

	low := &Entry{Score: 5}
	require.NoError(t, store.Save(ctx, low))
	_, err := store.Get(ctx, low.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_GetAndConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	e := &Entry{ID: uuid.New().String(), Game: "ddonpach", Score: 42}
	require.NoError(t, store.Save(ctx, e))
	assert.False(t, e.CreatedAt.IsZero())

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, *e, got)

	dup := *e
	assert.ErrorIs(t, store.Save(ctx, &dup), ErrConflict)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Close())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

// TestPostgresStore runs against a live database when
// EMULATOR_TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("EMULATOR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("EMULATOR_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	e := &Entry{Game: "ddonpach", Policy: "random", Score: 1234, Steps: 10}
	require.NoError(t, store.Save(ctx, e))
	assert.ErrorIs(t, store.Save(ctx, e), ErrConflict)

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Score, got.Score)

	_, err = store.Get(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)

	top, err := store.Top(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}
