package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
}

func TestRecordPropagation_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	want := createTestPropagation("p-1", "stmt-1", 1)

	require.NoError(t, s.RecordPropagation(ctx, want))
	// duplicate ids are ignored
	require.NoError(t, s.RecordPropagation(ctx, want))

	got, err := s.Propagation(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.NotEmpty(t, got.CreatedAt)
	assert.Equal(t, want.SourceID, got.SourceID)
	assert.Equal(t, want.Filter, got.Filter)
	assert.Equal(t, want.Update, got.Update)
	assert.Equal(t, want.ArrayFilters, got.ArrayFilters)
	assert.True(t, got.Multi)
}

func TestRecordPropagation_CompositeSourceID(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	p := createTestPropagation("p-1", "stmt-1", 1)
	p.SourceID = bson.D{{Key: "region", Value: "eu"}, {Key: "code", Value: "a1"}}
	p.ArrayFilters = nil

	require.NoError(t, s.RecordPropagation(ctx, p))
	got, err := s.Propagation(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, p.SourceID, got.SourceID)
	assert.Nil(t, got.ArrayFilters)
}

func TestPropagation_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Propagation(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMarkAppliedAndFailed(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	for i, id := range []string{"p-1", "p-2", "p-3"} {
		require.NoError(t, s.RecordPropagation(ctx, createTestPropagation(id, "stmt-1", int64(i+1))))
	}

	require.NoError(t, s.MarkApplied(ctx, "p-1"))
	require.NoError(t, s.MarkFailed(ctx, "p-2", errors.New("connection reset")))
	assert.Error(t, s.MarkApplied(ctx, "nope"))

	failed, err := s.Propagation(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "connection reset", failed.Error)
	assert.Equal(t, 1, failed.Attempts)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1, Applied: 1, Failed: 1}, st)
}

func TestPendingPropagations_Ordering(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	pending, err := s.PendingPropagations(ctx)
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)

	// inserted out of order on purpose
	require.NoError(t, s.RecordPropagation(ctx, createTestPropagation("b", "stmt-2", 2)))
	require.NoError(t, s.RecordPropagation(ctx, createTestPropagation("c", "stmt-1", 1)))
	require.NoError(t, s.RecordPropagation(ctx, createTestPropagation("a", "stmt-2", 2)))
	require.NoError(t, s.RecordPropagation(ctx, createTestPropagation("d", "stmt-3", 3)))
	require.NoError(t, s.MarkApplied(ctx, "d"))

	pending, err = s.PendingPropagations(ctx)
	require.NoError(t, err)
	var ids []string
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	byStmt, err := s.StatementPropagations(ctx, "stmt-2")
	require.NoError(t, err)
	assert.Len(t, byStmt, 2)

	last, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestLastSeq_Empty(t *testing.T) {
	s := createTestStore(t)
	last, err := s.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Zero(t, last)
}
