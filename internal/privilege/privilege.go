/*-------------------------------------------------------------------------
 *
 * QPG - Privilege Evaluator
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package privilege

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	qerrors "qpg/internal/errors"
)

// roleTreeCTE walks role membership transitively from the connected role.
const roleTreeCTE = `
WITH RECURSIVE role_tree AS (
    SELECT oid AS role_oid, rolname
    FROM pg_roles
    WHERE rolname = current_user
    UNION
    SELECT m.roleid AS role_oid, r.rolname
    FROM role_tree rt
    JOIN pg_auth_members m ON m.member = rt.role_oid
    JOIN pg_roles r ON r.oid = m.roleid
)
`

// violationQueries enumerate prohibited privileges per scope. Baseline
// allowed: SELECT on tables/views, USAGE on schemas, catalog reads.
var violationQueries = []string{
	`SELECT rt.rolname AS role_name,
        'database' AS scope,
        current_database() AS object_name,
        p.privilege AS privilege
 FROM role_tree rt
 CROSS JOIN (VALUES ('CREATE'), ('TEMP')) AS p(privilege)
 WHERE has_database_privilege(rt.rolname, current_database(), p.privilege)`,

	`SELECT rt.rolname AS role_name,
        'database' AS scope,
        current_database() AS object_name,
        'ALTER/DROP' AS privilege
 FROM role_tree rt
 JOIN pg_roles r ON r.rolname = rt.rolname
 JOIN pg_database d ON d.datname = current_database()
 WHERE d.datdba = r.oid`,

	`SELECT rt.rolname AS role_name,
        'schema' AS scope,
        n.nspname AS object_name,
        'CREATE' AS privilege
 FROM role_tree rt
 JOIN pg_namespace n ON n.nspname !~ '^pg_' AND n.nspname <> 'information_schema'
 WHERE has_schema_privilege(rt.rolname, n.oid, 'CREATE')`,

	`SELECT rt.rolname AS role_name,
        'schema' AS scope,
        n.nspname AS object_name,
        'ALTER/DROP' AS privilege
 FROM role_tree rt
 JOIN pg_roles r ON r.rolname = rt.rolname
 JOIN pg_namespace n ON n.nspowner = r.oid
 WHERE n.nspname !~ '^pg_' AND n.nspname <> 'information_schema'`,

	`SELECT rt.rolname AS role_name,
        'table' AS scope,
        n.nspname || '.' || c.relname AS object_name,
        p.privilege AS privilege
 FROM role_tree rt
 JOIN pg_class c ON c.relkind IN ('r', 'p', 'v', 'm', 'f')
 JOIN pg_namespace n ON n.oid = c.relnamespace
 CROSS JOIN (VALUES ('INSERT'), ('UPDATE'), ('DELETE'), ('TRUNCATE'), ('REFERENCES'), ('TRIGGER')) AS p(privilege)
 WHERE n.nspname !~ '^pg_'
   AND n.nspname <> 'information_schema'
   AND has_table_privilege(rt.rolname, c.oid, p.privilege)`,

	`SELECT rt.rolname AS role_name,
        'table' AS scope,
        n.nspname || '.' || c.relname AS object_name,
        'ALTER/DROP' AS privilege
 FROM role_tree rt
 JOIN pg_roles r ON r.rolname = rt.rolname
 JOIN pg_class c ON c.relowner = r.oid AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
 JOIN pg_namespace n ON n.oid = c.relnamespace
 WHERE n.nspname !~ '^pg_'
   AND n.nspname <> 'information_schema'`,
}

const executeQuery = `SELECT rt.rolname AS role_name,
        'function' AS scope,
        n.nspname || '.' || p.proname AS object_name,
        'EXECUTE' AS privilege
 FROM role_tree rt
 JOIN pg_proc p ON true
 JOIN pg_namespace n ON n.oid = p.pronamespace
 WHERE n.nspname !~ '^pg_'
   AND n.nspname <> 'information_schema'
   AND has_function_privilege(rt.rolname, p.oid, 'EXECUTE')`

// Violation is one prohibited privilege held by the connected role or an
// inherited role.
type Violation struct {
	Role      string `json:"role"`
	Scope     string `json:"scope"`
	Object    string `json:"object"`
	Privilege string `json:"privilege"`
}

// Outcome is the evaluator's verdict.
type Outcome string

const (
	Pass     Outcome = "pass"
	Fail     Outcome = "fail"
	Override Outcome = "override"
)

// Report is the result of a full privilege evaluation.
type Report struct {
	CurrentUser    string      `json:"current_user"`
	InheritedRoles []string    `json:"roles"`
	Violations     []Violation `json:"violations"`
	Outcome        Outcome     `json:"outcome"`
}

// Passed reports whether no prohibited privileges were found.
func (r *Report) Passed() bool {
	return len(r.Violations) == 0
}

// Options control the evaluation.
type Options struct {
	// AllowExecute drops the FUNCTION EXECUTE prohibition.
	AllowExecute bool
	// AllowExtraPrivileges turns a Fail outcome into Override.
	AllowExtraPrivileges bool
}

// Check evaluates the connected role's effective privilege set against the
// prohibited list and returns the report.
func Check(ctx context.Context, conn *pgx.Conn, opts Options) (*Report, error) {
	report := &Report{}

	err := conn.QueryRow(ctx, "SELECT current_user").Scan(&report.CurrentUser)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindConnectionError, "failed to read current_user", err)
	}

	report.InheritedRoles, err = listInheritedRoles(ctx, conn)
	if err != nil {
		return nil, err
	}

	report.Violations, err = collectViolations(ctx, conn, opts.AllowExecute)
	if err != nil {
		return nil, err
	}

	report.Outcome = Resolve(report.Violations, opts.AllowExtraPrivileges)
	return report, nil
}

// Resolve maps a violation list and the override flag to an outcome.
func Resolve(violations []Violation, allowExtraPrivileges bool) Outcome {
	if len(violations) == 0 {
		return Pass
	}
	if allowExtraPrivileges {
		return Override
	}
	return Fail
}

func listInheritedRoles(ctx context.Context, conn *pgx.Conn) ([]string, error) {
	rows, err := conn.Query(ctx, roleTreeCTE+`
        SELECT DISTINCT rolname
        FROM role_tree
        ORDER BY rolname`)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindConnectionError, "failed to list inherited roles", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan role row", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func collectViolations(ctx context.Context, conn *pgx.Conn, allowExecute bool) ([]Violation, error) {
	chunks := violationQueries
	if !allowExecute {
		chunks = append(append([]string{}, chunks...), executeQuery)
	}
	sql := roleTreeCTE + strings.Join(chunks, "\n UNION ALL \n") +
		"\n ORDER BY role_name, scope, object_name, privilege"

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindConnectionError, "privilege query failed", err)
	}
	defer rows.Close()

	var violations []Violation
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.Role, &v.Scope, &v.Object, &v.Privilege); err != nil {
			return nil, qerrors.Wrap(qerrors.KindInternal, "failed to scan violation row", err)
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// FormatReport renders a report for terminal output.
func FormatReport(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current user: %s\n", report.CurrentUser)
	roles := "(none)"
	if len(report.InheritedRoles) > 0 {
		roles = strings.Join(report.InheritedRoles, ", ")
	}
	fmt.Fprintf(&b, "Inherited roles: %s\n", roles)

	switch report.Outcome {
	case Pass:
		b.WriteString("Result: PASS (no prohibited privileges detected)")
		return b.String()
	case Override:
		b.WriteString("Result: OVERRIDE (prohibited privileges present, explicitly allowed)\n")
	default:
		b.WriteString("Result: FAIL (prohibited privileges detected)\n")
	}

	b.WriteString("Violations:")
	for _, v := range report.Violations {
		fmt.Fprintf(&b, "\n- role=%s scope=%s object=%s privilege=%s",
			v.Role, v.Scope, v.Object, v.Privilege)
	}
	return b.String()
}
