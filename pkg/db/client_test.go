package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
)

type testModel struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name    string
	Version int64
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), GormConfig())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := NewFromConn(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{ID: uuid.New(), Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{ID: uuid.New(), Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	client := NewFromConn(newTestDB(t))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestUpdateVersioned(t *testing.T) {
	db := newTestDB(t)
	row := testModel{ID: uuid.New(), Name: "a", Version: 1}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := UpdateVersioned(db, &testModel{}, row.ID, 1, map[string]any{"name": "b"}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	err := UpdateVersioned(db, &testModel{}, row.ID, 1, map[string]any{"name": "c"})
	if !pkgerrors.IsConcurrencyConflict(err) {
		t.Fatalf("expected concurrency conflict on stale version, got %v", err)
	}

	var stored testModel
	if err := db.First(&stored, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Name != "b" || stored.Version != 2 {
		t.Fatalf("unexpected row after updates: %+v", stored)
	}
}

func TestRetryOnConflict(t *testing.T) {
	conflict := pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "lost race")

	calls := 0
	err := RetryOnConflict(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return conflict
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), 2, func() error {
		calls++
		return conflict
	})
	if !pkgerrors.IsConcurrencyConflict(err) || calls != 2 {
		t.Fatalf("expected exhausted conflict after 2 calls, got err=%v calls=%d", err, calls)
	}

	calls = 0
	boom := errors.New("boom")
	err = RetryOnConflict(context.Background(), 5, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("non-conflict errors must not retry, got err=%v calls=%d", err, calls)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_points_transactions_idempotency"}
	wrapped := fmt.Errorf("insert: %w", pgErr)

	if !IsUniqueViolation(wrapped, "") {
		t.Fatal("expected pg 23505 to match")
	}
	if !IsUniqueViolation(wrapped, "ux_points_transactions_idempotency") {
		t.Fatal("expected constraint match")
	}
	if IsUniqueViolation(wrapped, "ux_other") {
		t.Fatal("expected mismatched constraint to be rejected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: points_transactions.idempotency_key"), "") {
		t.Fatal("expected sqlite unique message to match")
	}
}
