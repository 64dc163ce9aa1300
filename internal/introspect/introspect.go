/*-------------------------------------------------------------------------
 *
 * QPG - Source Database Introspection
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package introspect

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"qpg/internal/logging"
)

// Object is one introspected root entity (schema, relation, extension,
// function).
type Object struct {
	SchemaName string
	ObjectName string
	ObjectType string
	Definition string
	Comment    string
	Signature  string
	Owner      string
	IsSystem   bool
}

// FQName returns "schema.object", or the bare name for schema-less objects.
func (o *Object) FQName() string {
	if o.SchemaName != "" {
		return o.SchemaName + "." + o.ObjectName
	}
	return o.ObjectName
}

// Column is one table or view column.
type Column struct {
	ParentFQName string
	ColumnName   string
	DataType     string
	IsNullable   bool
	Ordinal      int
	DefaultExpr  string
	Comment      string
}

// Constraint is one table constraint.
type Constraint struct {
	ParentFQName   string
	ConstraintName string
	ConstraintType string
	Definition     string
	Columns        []string
}

// Index is one table index.
type Index struct {
	ParentFQName string
	IndexName    string
	Definition   string
	IsUnique     bool
	IsPrimary    bool
	Columns      []string
}

// Dependency is one edge in the object dependency graph.
type Dependency struct {
	FromFQName     string
	ToFQName       string
	DependencyType string
}

// Bundle is everything introspected from one source in one pass.
type Bundle struct {
	Objects      []Object
	Columns      []Column
	Constraints  []Constraint
	Indexes      []Index
	Dependencies []Dependency
	Warnings     []string
}

// Options control the introspection pass.
type Options struct {
	IncludeFunctions bool
}

const schemasQuery = `
SELECT n.nspname AS schema_name,
       n.nspname AS object_name,
       'schema' AS object_type,
       NULL::text AS definition,
       NULL::text AS comment,
       NULL::text AS signature,
       NULL::text AS owner
FROM pg_namespace n
WHERE n.nspname !~ '^pg_'
  AND n.nspname <> 'information_schema'
ORDER BY n.nspname`

const relationsQuery = `
SELECT n.nspname AS schema_name,
       c.relname AS object_name,
       CASE c.relkind
            WHEN 'r' THEN 'table'
            WHEN 'p' THEN 'table'
            WHEN 'v' THEN 'view'
            WHEN 'm' THEN 'view'
            WHEN 'f' THEN 'table'
            ELSE 'table'
       END AS object_type,
       CASE
            WHEN c.relkind IN ('v', 'm') THEN pg_get_viewdef(c.oid, true)
            ELSE NULL
       END AS definition,
       obj_description(c.oid, 'pg_class') AS comment,
       NULL::text AS signature,
       pg_get_userbyid(c.relowner) AS owner
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p', 'v', 'm', 'f')
  AND n.nspname !~ '^pg_'
  AND n.nspname <> 'information_schema'
ORDER BY n.nspname, c.relname`

const extensionsQuery = `
SELECT n.nspname AS schema_name,
       e.extname AS object_name,
       'extension' AS object_type,
       ('version=' || e.extversion) AS definition,
       obj_description(e.oid, 'pg_extension') AS comment,
       NULL::text AS signature,
       NULL::text AS owner
FROM pg_extension e
JOIN pg_namespace n ON n.oid = e.extnamespace
ORDER BY e.extname`

const functionsQuery = `
SELECT n.nspname AS schema_name,
       p.proname || '(' || pg_get_function_identity_arguments(p.oid) || ')' AS object_name,
       'function' AS object_type,
       pg_get_functiondef(p.oid) AS definition,
       obj_description(p.oid, 'pg_proc') AS comment,
       pg_get_function_identity_arguments(p.oid) AS signature,
       pg_get_userbyid(p.proowner) AS owner
FROM pg_proc p
JOIN pg_namespace n ON n.oid = p.pronamespace
WHERE n.nspname !~ '^pg_'
  AND n.nspname <> 'information_schema'
  AND p.prokind IN ('f', 'p')
ORDER BY n.nspname, p.proname, pg_get_function_identity_arguments(p.oid)`

const columnsQuery = `
SELECT n.nspname AS schema_name,
       c.relname AS table_name,
       a.attname AS column_name,
       format_type(a.atttypid, a.atttypmod) AS data_type,
       NOT a.attnotnull AS is_nullable,
       a.attnum AS ordinal_position,
       pg_get_expr(ad.adbin, ad.adrelid) AS default_expr,
       col_description(a.attrelid, a.attnum) AS comment
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_attrdef ad ON ad.adrelid = a.attrelid AND ad.adnum = a.attnum
WHERE c.relkind IN ('r', 'p', 'v', 'm', 'f')
  AND a.attnum > 0
  AND NOT a.attisdropped
  AND n.nspname !~ '^pg_'
  AND n.nspname <> 'information_schema'
ORDER BY n.nspname, c.relname, a.attnum`

const constraintsQuery = `
SELECT n.nspname AS schema_name,
       c.relname AS table_name,
       con.conname AS constraint_name,
       CASE con.contype
            WHEN 'p' THEN 'primary_key'
            WHEN 'f' THEN 'foreign_key'
            WHEN 'u' THEN 'unique'
            WHEN 'c' THEN 'check'
            WHEN 'x' THEN 'exclusion'
            ELSE con.contype::text
       END AS constraint_type,
       pg_get_constraintdef(con.oid, true) AS definition,
       COALESCE(
         ARRAY(
            SELECT att.attname
            FROM unnest(con.conkey) WITH ORDINALITY AS keys(attnum, ord)
            JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = keys.attnum
            ORDER BY keys.ord
         ),
         ARRAY[]::text[]
       ) AS columns
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname !~ '^pg_'
  AND n.nspname <> 'information_schema'
ORDER BY n.nspname, c.relname, con.conname`

const indexesQuery = `
SELECT n.nspname AS schema_name,
       t.relname AS table_name,
       i.relname AS index_name,
       pg_get_indexdef(i.oid) AS definition,
       ix.indisunique AS is_unique,
       ix.indisprimary AS is_primary,
       COALESCE(
         ARRAY(
            SELECT att.attname
            FROM unnest(ix.indkey) WITH ORDINALITY AS keys(attnum, ord)
            JOIN pg_attribute att ON att.attrelid = t.oid AND att.attnum = keys.attnum
            WHERE keys.attnum > 0
            ORDER BY keys.ord
         ),
         ARRAY[]::text[]
       ) AS columns
FROM pg_index ix
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname !~ '^pg_'
  AND n.nspname <> 'information_schema'
ORDER BY n.nspname, t.relname, i.relname`

const dependenciesQuery = `
SELECT src_ns.nspname AS src_schema,
       src.relname AS src_name,
       dst_ns.nspname AS dst_schema,
       dst.relname AS dst_name,
       dep.deptype::text AS dependency_type
FROM pg_depend dep
JOIN pg_class src ON src.oid = dep.objid
JOIN pg_namespace src_ns ON src_ns.oid = src.relnamespace
JOIN pg_class dst ON dst.oid = dep.refobjid
JOIN pg_namespace dst_ns ON dst_ns.oid = dst.relnamespace
WHERE src_ns.nspname !~ '^pg_'
  AND src_ns.nspname <> 'information_schema'
  AND dst_ns.nspname !~ '^pg_'
  AND dst_ns.nspname <> 'information_schema'
  AND src.relkind IN ('r', 'p', 'v', 'm', 'f')
  AND dst.relkind IN ('r', 'p', 'v', 'm', 'f')`

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isSystemSchema(name string) bool {
	return strings.HasPrefix(name, "pg_") || name == "information_schema"
}

// Introspect runs the fixed catalog query set against a guarded connection
// and returns the bundle. Individual sections degrade to warnings rather
// than failing the whole pass.
func Introspect(ctx context.Context, conn *pgx.Conn, opts Options) (*Bundle, error) {
	bundle := &Bundle{}

	warn := func(section string, err error) {
		message := fmt.Sprintf("%s: %v", section, err)
		bundle.Warnings = append(bundle.Warnings, message)
		logging.Warn("introspection section failed", "section", section, "error", err.Error())
	}

	objectQueries := []struct {
		section string
		sql     string
	}{
		{"schemas", schemasQuery},
		{"relations", relationsQuery},
		{"extensions", extensionsQuery},
	}
	if opts.IncludeFunctions {
		objectQueries = append(objectQueries, struct {
			section string
			sql     string
		}{"functions", functionsQuery})
	}

	for _, q := range objectQueries {
		objects, err := fetchObjects(ctx, conn, q.sql)
		if err != nil {
			warn(q.section, err)
			continue
		}
		bundle.Objects = append(bundle.Objects, objects...)
	}

	if columns, err := fetchColumns(ctx, conn); err != nil {
		warn("columns", err)
	} else {
		bundle.Columns = columns
	}

	if constraints, err := fetchConstraints(ctx, conn); err != nil {
		warn("constraints", err)
	} else {
		bundle.Constraints = constraints
	}

	if indexes, err := fetchIndexes(ctx, conn); err != nil {
		warn("indexes", err)
	} else {
		bundle.Indexes = indexes
	}

	if deps, err := fetchDependencies(ctx, conn); err != nil {
		warn("dependencies", err)
	} else {
		bundle.Dependencies = deps
	}

	return bundle, nil
}

func fetchObjects(ctx context.Context, conn *pgx.Conn, sql string) ([]Object, error) {
	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objects []Object
	for rows.Next() {
		var schemaName, objectName, objectType *string
		var definition, comment, signature, owner *string
		if err := rows.Scan(&schemaName, &objectName, &objectType,
			&definition, &comment, &signature, &owner); err != nil {
			return nil, err
		}
		obj := Object{
			SchemaName: deref(schemaName),
			ObjectName: deref(objectName),
			ObjectType: deref(objectType),
			Definition: deref(definition),
			Comment:    deref(comment),
			Signature:  deref(signature),
			Owner:      deref(owner),
		}
		obj.IsSystem = isSystemSchema(obj.SchemaName)
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

func fetchColumns(ctx context.Context, conn *pgx.Conn) ([]Column, error) {
	rows, err := conn.Query(ctx, columnsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var schemaName, tableName, columnName, dataType string
		var isNullable bool
		var ordinal int
		var defaultExpr, comment *string
		if err := rows.Scan(&schemaName, &tableName, &columnName, &dataType,
			&isNullable, &ordinal, &defaultExpr, &comment); err != nil {
			return nil, err
		}
		columns = append(columns, Column{
			ParentFQName: schemaName + "." + tableName,
			ColumnName:   columnName,
			DataType:     dataType,
			IsNullable:   isNullable,
			Ordinal:      ordinal,
			DefaultExpr:  deref(defaultExpr),
			Comment:      deref(comment),
		})
	}
	return columns, rows.Err()
}

func fetchConstraints(ctx context.Context, conn *pgx.Conn) ([]Constraint, error) {
	rows, err := conn.Query(ctx, constraintsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var constraints []Constraint
	for rows.Next() {
		var schemaName, tableName, name, ctype string
		var definition *string
		var cols []string
		if err := rows.Scan(&schemaName, &tableName, &name, &ctype, &definition, &cols); err != nil {
			return nil, err
		}
		constraints = append(constraints, Constraint{
			ParentFQName:   schemaName + "." + tableName,
			ConstraintName: name,
			ConstraintType: ctype,
			Definition:     deref(definition),
			Columns:        cols,
		})
	}
	return constraints, rows.Err()
}

func fetchIndexes(ctx context.Context, conn *pgx.Conn) ([]Index, error) {
	rows, err := conn.Query(ctx, indexesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var schemaName, tableName, name string
		var definition *string
		var isUnique, isPrimary bool
		var cols []string
		if err := rows.Scan(&schemaName, &tableName, &name, &definition,
			&isUnique, &isPrimary, &cols); err != nil {
			return nil, err
		}
		indexes = append(indexes, Index{
			ParentFQName: schemaName + "." + tableName,
			IndexName:    name,
			Definition:   deref(definition),
			IsUnique:     isUnique,
			IsPrimary:    isPrimary,
			Columns:      cols,
		})
	}
	return indexes, rows.Err()
}

func fetchDependencies(ctx context.Context, conn *pgx.Conn) ([]Dependency, error) {
	rows, err := conn.Query(ctx, dependenciesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []Dependency
	for rows.Next() {
		var srcSchema, srcName, dstSchema, dstName, depType string
		if err := rows.Scan(&srcSchema, &srcName, &dstSchema, &dstName, &depType); err != nil {
			return nil, err
		}
		deps = append(deps, Dependency{
			FromFQName:     srcSchema + "." + srcName,
			ToFQName:       dstSchema + "." + dstName,
			DependencyType: depType,
		})
	}
	return deps, rows.Err()
}
