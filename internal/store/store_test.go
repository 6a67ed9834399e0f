package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type widget struct {
	ID        string `gorm:"primaryKey"`
	Owner     string `gorm:"index"`
	Rank      int
	CreatedAt time.Time
}

func setupTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := NewWithDB(db, nil)
	require.NoError(t, s.Migrate(&widget{}))
	return s
}

func TestStore_PutAndGetByID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &widget{ID: "w1", Owner: "ana", Rank: 1}))

	var got widget
	require.NoError(t, s.GetByID(ctx, &got, "w1"))
	assert.Equal(t, "ana", got.Owner)

	// Put replaces by primary key
	require.NoError(t, s.Put(ctx, &widget{ID: "w1", Owner: "ana", Rank: 7}))
	require.NoError(t, s.GetByID(ctx, &got, "w1"))
	assert.Equal(t, 7, got.Rank)

	err := s.GetByID(ctx, &got, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetByIndexAndAll(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &widget{ID: "w1", Owner: "ana", Rank: 2}))
	require.NoError(t, s.Put(ctx, &widget{ID: "w2", Owner: "bo", Rank: 1}))
	require.NoError(t, s.Put(ctx, &widget{ID: "w3", Owner: "ana", Rank: 1}))

	var owned []widget
	require.NoError(t, s.GetByIndex(ctx, &owned, "owner", "ana", "rank ASC"))
	require.Len(t, owned, 2)
	assert.Equal(t, "w3", owned[0].ID)

	var all []widget
	require.NoError(t, s.GetAll(ctx, &all, "id ASC"))
	assert.Len(t, all, 3)

	require.NoError(t, s.DeleteByID(ctx, &widget{}, "w2"))
	require.NoError(t, s.GetAll(ctx, &all, ""))
	assert.Len(t, all, 2)
}

func TestStore_TransactionRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.Put(ctx, &widget{ID: "w1", Owner: "ana"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var all []widget
	require.NoError(t, s.GetAll(ctx, &all, ""))
	assert.Empty(t, all)
}

func TestJournal_RecordForgetEntries(t *testing.T) {
	j, err := OpenMemoryJournal()
	require.NoError(t, err)
	defer j.Close()

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return at.Add(-time.Hour) }

	require.NoError(t, j.Record("alert", "occ-1", at))
	require.NoError(t, j.Record("alert", "occ-2", at.Add(time.Hour)))
	require.NoError(t, j.Record("escalation", "occ-1", at.Add(5*time.Minute)))

	entries, err := j.Entries("alert")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries["occ-1"].Equal(at))

	require.NoError(t, j.Forget("alert", "occ-1"))
	require.NoError(t, j.Forget("alert", "never-recorded"))

	entries, err = j.Entries("alert")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	esc, err := j.Entries("escalation")
	require.NoError(t, err)
	assert.Len(t, esc, 1)
}
