package transaction

import "context"

// Connection is the capability the coordinator needs from a physical database
// connection. AutoCommit reports the JDBC-style autocommit flag: a connection
// handed out by a ConnectionProvider must report true, SetAutoCommit(false)
// starts the physical transaction and SetAutoCommit(true) returns the
// connection to statement-at-a-time mode.
type Connection interface {
	AutoCommit() bool
	SetAutoCommit(ctx context.Context, enabled bool) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ConnectionProvider hands out and takes back physical connections.
// Release is called exactly once for every connection returned by Acquire,
// including on failure paths.
type ConnectionProvider interface {
	Acquire(ctx context.Context) (Connection, error)
	Release(ctx context.Context, conn Connection) error
}

// vendorReporter is optionally implemented by connections that know which
// database system they talk to. The value becomes the db.system.name span attribute.
type vendorReporter interface {
	Vendor() string
}

func vendorOf(conn Connection) string {
	if v, ok := conn.(vendorReporter); ok {
		return v.Vendor()
	}
	return ""
}
