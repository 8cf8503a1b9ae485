package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

var errAbort = errors.New("abort")

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// A single connection keeps the in-memory database shared across the tx and the checks.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE comments (id TEXT PRIMARY KEY, content TEXT NOT NULL)`)
	if err != nil {
		t.Fatalf("Failed to create test table: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func countComments(t *testing.T, db *sql.DB) int {
	t.Helper()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM comments").Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return count
}

func insertComment(ctx context.Context, db *sql.DB, id string) error {
	_, err := GetExecutor(ctx, db).ExecContext(ctx, "INSERT INTO comments (id, content) VALUES (?, ?)", id, "hello")
	return err
}

func TestRunInTransaction(t *testing.T) {
	tests := []struct {
		name      string
		fn        func(db *sql.DB) func(ctx context.Context) error
		wantErr   bool
		wantCount int
	}{
		{
			name: "commit on success",
			fn: func(db *sql.DB) func(ctx context.Context) error {
				return func(ctx context.Context) error {
					if _, ok := GetTx(ctx); !ok {
						return errors.New("expected transaction in context")
					}
					return insertComment(ctx, db, "c1")
				}
			},
			wantCount: 1,
		},
		{
			name: "rollback on error",
			fn: func(db *sql.DB) func(ctx context.Context) error {
				return func(ctx context.Context) error {
					if err := insertComment(ctx, db, "c1"); err != nil {
						return err
					}
					return errAbort
				}
			},
			wantErr:   true,
			wantCount: 0,
		},
		{
			name: "nested call joins outer transaction",
			fn: func(db *sql.DB) func(ctx context.Context) error {
				return func(outer context.Context) error {
					if err := insertComment(outer, db, "outer"); err != nil {
						return err
					}
					return RunInTransaction(outer, db, func(inner context.Context) error {
						outerTx, _ := GetTx(outer)
						innerTx, _ := GetTx(inner)
						if outerTx != innerTx {
							return errors.New("nested call opened a new transaction")
						}
						return insertComment(inner, db, "inner")
					})
				}
			},
			wantCount: 2,
		},
		{
			name: "nested failure rolls back everything",
			fn: func(db *sql.DB) func(ctx context.Context) error {
				return func(outer context.Context) error {
					if err := insertComment(outer, db, "outer"); err != nil {
						return err
					}
					return RunInTransaction(outer, db, func(inner context.Context) error {
						if err := insertComment(inner, db, "inner"); err != nil {
							return err
						}
						return errAbort
					})
				}
			},
			wantErr:   true,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)

			err := RunInTransaction(context.Background(), db, tt.fn(db))
			if (err != nil) != tt.wantErr {
				t.Fatalf("RunInTransaction() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errAbort) {
				t.Errorf("RunInTransaction() error = %v, want %v", err, errAbort)
			}

			if got := countComments(t, db); got != tt.wantCount {
				t.Errorf("row count = %d, want %d", got, tt.wantCount)
			}
		})
	}
}

func TestGetExecutor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if executor := GetExecutor(ctx, db); executor != db {
		t.Error("Expected executor to be the database")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	if executor := GetExecutor(WithTx(ctx, tx), db); executor != tx {
		t.Error("Expected executor to be the transaction")
	}
}
