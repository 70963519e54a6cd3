// Package database opens the SQLite file that holds hublink's state history.
//
// WAL mode is recommended so API reads of history are not blocked by the
// recorder. Schema changes are plain SQL files applied in filename order:
//
//	YYYYMMDD_HHMMSS_description.up.sql
//	YYYYMMDD_HHMMSS_description.down.sql
//
// The files live in the top-level migrations package and are embedded into
// the binary:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Every query uses placeholders. The database file is created 0600.
package database
