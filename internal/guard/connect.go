/*-------------------------------------------------------------------------
 *
 * QPG - Guarded PostgreSQL Connections
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package guard

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"

	qerrors "qpg/internal/errors"
	"qpg/internal/logging"
	"qpg/internal/redact"
)

const (
	maxConnectAttempts = 3
	initialBackoff     = 500 * time.Millisecond
)

// Connect opens a guarded connection to a source database: the read-only
// session options are merged into the DSN, and the session variables are
// asserted immediately after connect. A rejected or missing setting fails
// the connection with a guard violation.
func Connect(ctx context.Context, dsn string) (*pgx.Conn, error) {
	guarded := EnforceReadOnlyDSN(dsn)

	config, err := pgx.ParseConfig(guarded)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindConfigError, "invalid connection string", err)
	}

	var conn *pgx.Conn
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		conn, err = pgx.ConnectConfig(ctx, config)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, qerrors.Wrap(qerrors.KindCancelled, "connect cancelled", ctx.Err())
		}
		// Only network-class failures are transient; auth and protocol
		// errors fail immediately.
		if !isNetworkError(err) || attempt >= maxConnectAttempts {
			return nil, qerrors.Wrapf(qerrors.KindConnectionError, err,
				"failed to connect to %s", redact.DSN(dsn))
		}
		logging.Warn("connect attempt failed, retrying",
			"attempt", attempt, "backoff", backoff.String(), "dsn", redact.DSN(dsn))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, qerrors.Wrap(qerrors.KindCancelled, "connect cancelled", ctx.Err())
		}
		backoff *= 2
	}

	if err := assertSessionGuards(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}

// assertSessionGuards verifies post-connect that the server accepted every
// guard setting.
func assertSessionGuards(ctx context.Context, conn *pgx.Conn) error {
	checks := []struct {
		setting string
		want    string
	}{
		{"default_transaction_read_only", "on"},
		{"statement_timeout", StatementTimeout},
		{"idle_in_transaction_session_timeout", IdleInTransactionIdle},
	}

	for _, check := range checks {
		var got string
		err := conn.QueryRow(ctx, "SELECT current_setting($1)", check.setting).Scan(&got)
		if err != nil {
			return qerrors.Wrapf(qerrors.KindGuardViolation, err,
				"failed to verify session setting %s", check.setting)
		}
		if !settingEqual(check.setting, got, check.want) {
			return qerrors.Newf(qerrors.KindGuardViolation,
				"session setting %s is %q, expected %q; refusing to proceed",
				check.setting, got, check.want)
		}
	}
	return nil
}

// settingEqual compares a reported setting against the requested value.
// Timeouts come back in milliseconds ("5000ms" for "5s").
func settingEqual(setting, got, want string) bool {
	if got == want {
		return true
	}
	switch setting {
	case "statement_timeout":
		return got == "5000ms" || got == "5000"
	case "idle_in_transaction_session_timeout":
		return got == "10000ms" || got == "10000"
	}
	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
