package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestPropagation returns an entry refreshing the product copies held
// by orders.
func createTestPropagation(id, statementID string, seq int64) Propagation {
	return Propagation{
		ID:               id,
		StatementID:      statementID,
		Seq:              seq,
		SourceTable:      "product",
		SourceCollection: "products",
		SourceID:         int64(3),
		TargetTable:      "order",
		TargetCollection: "customers",
		Filter:           bson.D{{Key: "order.product_id.$id", Value: int64(3)}},
		Update: bson.D{{Key: "$set", Value: bson.D{
			{Key: "order.$[e0].product", Value: bson.D{{Key: "_id", Value: int64(3)}, {Key: "price", Value: 5.5}}},
		}}},
		ArrayFilters: bson.A{bson.D{{Key: "e0.product_id.$id", Value: int64(3)}}},
		Multi:        true,
	}
}

// verifyPragma checks that a connection pragma has the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
