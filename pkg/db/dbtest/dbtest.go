// Package dbtest opens isolated sqlite databases for package tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/puttlab-backend/pkg/db"
)

// Open returns a fresh in-memory database with the service schema. The pool is
// capped at one connection so concurrent tests serialize instead of tripping
// sqlite's shared-cache table locks.
func Open(t testing.TB) *db.Client {
	t.Helper()
	client, err := db.OpenSQLite("file:test_" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
