package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Drivers for the two databases the platform runs.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// SQLPinger is the database surface the check needs; *sql.DB satisfies
// it and sqlmock substitutes it in tests.
type SQLPinger interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// DatabaseCheck verifies the database answers a ping and reports
// connection pool stats.
type DatabaseCheck struct {
	name     string
	driver   string
	dsn      string
	critical bool

	// db overrides the lazily opened handle in tests.
	db SQLPinger
}

// NewDatabaseCheck creates a database connectivity check.
func NewDatabaseCheck(name, driver, dsn string, critical bool) *DatabaseCheck {
	if driver == "" {
		driver = "postgres"
	}
	return &DatabaseCheck{name: name, driver: driver, dsn: dsn, critical: critical}
}

// SetDB injects a database handle, used by tests with sqlmock.
func (c *DatabaseCheck) SetDB(db SQLPinger) { c.db = db }

// Name implements Check.
func (c *DatabaseCheck) Name() string { return c.name }

// Critical implements Check.
func (c *DatabaseCheck) Critical() bool { return c.critical }

// Run implements Check.
func (c *DatabaseCheck) Run(ctx context.Context) Result {
	db := c.db
	if db == nil {
		if c.dsn == "" {
			return fail(c.name, c.critical, 0, "no DSN configured")
		}
		handle, err := sql.Open(c.driver, c.dsn)
		if err != nil {
			return fail(c.name, c.critical, 0, fmt.Sprintf("open: %v", err))
		}
		defer func() { _ = handle.Close() }()
		db = handle
	}

	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)
	if err != nil {
		return fail(c.name, c.critical, latency, fmt.Sprintf("ping failed: %v", err))
	}

	stats := db.Stats()
	result := ok(c.name, c.critical, latency, fmt.Sprintf("ping %s", latency.Round(time.Millisecond)))
	result.Details = map[string]string{
		"open_connections": fmt.Sprintf("%d", stats.OpenConnections),
		"in_use":           fmt.Sprintf("%d", stats.InUse),
	}
	return result
}
