package testutil

import (
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/semidx/semidx/internal/config"
	"github.com/semidx/semidx/internal/repo"
)

func OpenTestDB(t *testing.T) (*sqlx.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := repo.Connect(config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "semidx",
		Password: "semidx_pass",
		DBName:   "semidx_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}
