// Package database provides SQLite connectivity for PDM Core.
//
// It manages:
//   - the connection, with WAL mode so API reads don't block inserts
//   - schema migrations read from an fs.FS (the migrations package embeds them)
//
// All queries use parameterised statements. The database file is created
// with mode 0600.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are NULLABLE or have a DEFAULT, and
// every .up.sql has a matching .down.sql.
package database
