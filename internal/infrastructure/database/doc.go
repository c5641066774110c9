// Package database opens the gateway's local SQLite database and applies
// its embedded schema migrations.
//
// The database holds the audit trail only. Device state lives in the
// state store, which must stay readable without SQLite.
//
// The connection is tuned for a single writer: WAL journal, a busy timeout
// and one open connection. Migrations are versioned
// YYYYMMDD_HHMMSS_name.{up,down}.sql files registered by the migrations
// package; each one applies in its own transaction.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
