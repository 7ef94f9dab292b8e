package services

import (
	"fmt"
	"strings"
	"testing"

	"heartpulse-billing/internal/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// newTestDB opens an isolated in-memory database with the full schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps the shared in-memory database alive
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// newReconcilerFixture wires a reconciler with its collaborators on one test database
func newReconcilerFixture(t *testing.T) (*gorm.DB, *LinkService, *Aggregator, *Reconciler) {
	t.Helper()
	db := newTestDB(t)
	links := NewLinkService(db)
	aggregator := NewAggregator(db)
	reconciler := NewReconciler(db, links, aggregator)
	return db, links, aggregator, reconciler
}

func countInPartition(t *testing.T, db *gorm.DB, table, transactionID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Table(table).Where("transaction_id = ?", transactionID).Count(&count).Error)
	return count
}
