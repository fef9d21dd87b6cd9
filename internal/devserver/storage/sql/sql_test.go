package sql

import (
	"context"
	"database/sql"
	"flag"
	"testing"

	"github.com/heroku/loopauth/internal/devserver/storage"
	_ "github.com/lib/pq"
)

var (
	dbURL = flag.String("db-url", "", "Database URL")
)

func TestStorage(t *testing.T) {
	if *dbURL == "" {
		t.Skip("-db-url not set, skipping")
	}

	ctx, s := setup(t)
	storage.Test(ctx, t, s)
}

func TestMigrateIdempotent(t *testing.T) {
	if *dbURL == "" {
		t.Skip("-db-url not set, skipping")
	}

	ctx, s := setup(t)
	if _, err := New(ctx, s.db); err != nil {
		t.Fatalf("second migration run: %v", err)
	}
}

func setup(t *testing.T) (ctx context.Context, s *Storage) {
	ctx = context.Background()

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"migrations", "sessions"} {
		if _, err := db.Exec(`drop table if exists ` + table); err != nil {
			t.Fatal(err)
		}
	}

	s, err = New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}

	return ctx, s
}
