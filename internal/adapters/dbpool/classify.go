package dbpool

import (
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var connectionPGCodes = map[string]struct{}{
	pgerrcode.TooManyConnections: {},
	pgerrcode.AdminShutdown:      {},
	pgerrcode.CrashShutdown:      {},
	pgerrcode.CannotConnectNow:   {},
	pgerrcode.DatabaseDropped:    {},
	pgerrcode.InvalidCatalogName: {},
}

// SQLState extracts the SQLSTATE from a lib/pq or pgx error.
func SQLState(err error) (string, bool) {
	var pqe *pq.Error
	if errors.As(err, &pqe) {
		return string(pqe.Code), true
	}
	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		return pge.Code, true
	}
	return "", false
}

// IsAuthError reports a rejected login (SQLSTATE class 28).
func IsAuthError(err error) bool {
	code, ok := SQLState(err)
	return ok && strings.HasPrefix(code, "28")
}

// IsConnectionError reports failures of the database session itself as
// opposed to the statement running on it.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	code, ok := SQLState(err)
	if !ok {
		return false
	}
	if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "28") {
		return true
	}
	_, hit := connectionPGCodes[code]
	return hit
}

// isRetryableStartup is used while warming the pool: wrong credentials will
// not fix themselves, everything else at the connection level might.
func isRetryableStartup(err error) bool {
	return IsConnectionError(err) && !IsAuthError(err)
}
