package db

import (
	"database/sql"
)

// Database is the local relational store backing the cache metadata and the
// pending-sync tables.
type Database interface {
	Connect() error
	Close() error
	DB() *sql.DB
}
