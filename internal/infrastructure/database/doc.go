// Package database provides SQLite database connectivity for ESPLink.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Connection pooling and lifecycle management
//   - Health checks for the readiness endpoint
//
// The database holds the device directory only (metadata observed during
// registration). It is never consulted to answer whether a device is online;
// the in-memory connection registry is the sole authority for that.
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
package database
