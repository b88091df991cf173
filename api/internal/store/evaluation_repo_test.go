package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"inkboard/api/internal/recognize"
)

// openTestDB connects to TEST_DATABASE_URL or skips.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEvaluationRepo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewEvaluationRepo(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	hash := ImageKey(time.Now().Format(time.RFC3339Nano))
	if _, err := repo.FindByHash(ctx, hash, "predict", "m", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByHash() on empty = %v", err)
	}

	p := recognize.Prediction{FormattedEquation: "2+2", Solution: "4"}
	if err := repo.Upsert(ctx, hash, "predict", "m", p); err != nil {
		t.Fatal(err)
	}
	p.Solution = "four"
	if err := repo.Upsert(ctx, hash, "predict", "m", p); err != nil {
		t.Fatal(err)
	}

	row, err := repo.FindByHash(ctx, hash, "predict", "m", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if row.Prediction != p {
		t.Errorf("row = %+v, want %+v", row.Prediction, p)
	}

	recent, err := repo.Recent(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) == 0 {
		t.Error("Recent() is empty")
	}

	if _, err := repo.PurgeOlderThan(ctx, 0); err == nil {
		t.Error("PurgeOlderThan(0) should fail")
	}
}
