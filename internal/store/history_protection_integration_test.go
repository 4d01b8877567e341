package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// TestDeleteHistoryProtectsLatestRow verifies against a real database that
// the most recent history row for a company cannot be deleted while older
// rows can.
func TestDeleteHistoryProtectsLatestRow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewPostgresStore(db)

	company := Company{ID: "cmp_it_hist", Name: "Integration Co", Region: "KST"}
	if err := s.InsertCompany(ctx, company); err != nil {
		t.Fatalf("insert company: %v", err)
	}
	defer func() { _ = s.DeleteCompany(ctx, company.ID) }()

	base := time.Now().Add(-48 * time.Hour)
	older := StatusHistory{ID: "hist_it_old", CompanyID: company.ID, ChangedAt: base}
	latest := StatusHistory{ID: "hist_it_new", CompanyID: company.ID, ChangedAt: base.Add(time.Hour)}
	for _, row := range []StatusHistory{older, latest} {
		if err := s.InsertHistory(ctx, row); err != nil {
			t.Fatalf("insert history %s: %v", row.ID, err)
		}
	}

	if err := s.DeleteHistory(ctx, latest.ID); !errors.Is(err, ErrLatestHistoryRow) {
		t.Fatalf("expected ErrLatestHistoryRow deleting the latest row, got %v", err)
	}
	if err := s.DeleteHistory(ctx, older.ID); err != nil {
		t.Fatalf("deleting an older row should succeed: %v", err)
	}

	// After the older row is gone the remaining row is still protected.
	if err := s.DeleteHistory(ctx, latest.ID); !errors.Is(err, ErrLatestHistoryRow) {
		t.Fatalf("expected sole remaining row to stay protected, got %v", err)
	}
}

// getTestDatabaseURL returns the database URL for integration tests,
// honoring TEST_DATABASE_URL and the standard Postgres variables.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := getenv("TEST_DATABASE_URL", ""); url != "" {
		return url
	}

	host := getenv("POSTGRES_HOST", "localhost")
	port := getenv("POSTGRES_PORT", "5432")
	user := getenv("POSTGRES_USER", "flowboard")
	pass := getenv("POSTGRES_PASSWORD", "flowboard")
	dbname := getenv("POSTGRES_DB", "flowboard_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
