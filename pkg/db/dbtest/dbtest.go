// Package dbtest opens isolated in-memory sqlite databases for repository and service tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/db"
)

var seq atomic.Int64

// Open returns a fresh sqlite database migrated for the given models. Every call gets
// its own named shared-cache database so tests in one package never see each other's rows.
func Open(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if len(models) > 0 {
		if err := conn.AutoMigrate(models...); err != nil {
			t.Fatalf("failed to migrate sqlite: %v", err)
		}
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// Client wraps Open in a db.Client so services can run real transactions.
func Client(t *testing.T, models ...any) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t, models...)
	return db.NewFromConn(conn), conn
}
