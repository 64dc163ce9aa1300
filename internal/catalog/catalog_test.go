/*-------------------------------------------------------------------------
 *
 * QPG - Catalog Store Tests
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package catalog

import (
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	qerrors "qpg/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenInitializesSchema(t *testing.T) {
	store := openTestStore(t)

	var version int
	if err := store.DB().QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("user_version: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("user_version = %d, want %d", version, schemaVersion)
	}

	for _, table := range []string{
		"sources", "db_objects", "columns", "constraints", "indexes",
		"dependencies", "contexts", "object_context_effective",
		"lexical_docs", "objects_fts", "object_vectors", "llm_cache",
	} {
		var name string
		err := store.DB().QueryRow(
			`SELECT name FROM sqlite_master WHERE name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := store.AddSource("work", "postgresql://u@h/db", nil, nil); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer store.Close()
	if _, err := store.GetSource("work"); err != nil {
		t.Errorf("source lost across reopen: %v", err)
	}
}

func TestSourceLifecycle(t *testing.T) {
	store := openTestStore(t)

	src, err := store.AddSource("work", "postgresql://app:hunter2@db/prod",
		[]string{"public", "billing"}, []string{"*_staging"})
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if src.ID == 0 || src.Name != "work" {
		t.Errorf("unexpected source: %+v", src)
	}
	if len(src.IncludeSchemas) != 2 || src.IncludeSchemas[1] != "billing" {
		t.Errorf("include schemas = %v", src.IncludeSchemas)
	}
	if len(src.SkipPatterns) != 1 || src.SkipPatterns[0] != "*_staging" {
		t.Errorf("skip patterns = %v", src.SkipPatterns)
	}

	if _, err := store.AddSource("work", "postgresql://u@h/db", nil, nil); err == nil {
		t.Error("duplicate source name should fail")
	} else if qerrors.KindOf(err) != qerrors.KindConfigError {
		t.Errorf("duplicate kind = %s", qerrors.KindOf(err))
	}

	sources, err := store.ListSources()
	if err != nil || len(sources) != 1 {
		t.Fatalf("ListSources = %v, %v", sources, err)
	}

	if err := store.DeleteSource("work"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if _, err := store.GetSource("work"); qerrors.KindOf(err) != qerrors.KindNotFound {
		t.Errorf("GetSource after delete kind = %s", qerrors.KindOf(err))
	}
}

func TestAddSourceStoresGuardedDSN(t *testing.T) {
	store := openTestStore(t)

	src, err := store.AddSource("work", "postgresql://u@h/db?sslmode=require", nil, nil)
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	parsed, err := url.Parse(src.DSN)
	if err != nil {
		t.Fatalf("stored DSN unparseable: %v", err)
	}
	options := parsed.Query().Get("options")
	for _, want := range []string{
		"default_transaction_read_only=on",
		"statement_timeout=5s",
		"idle_in_transaction_session_timeout=10s",
	} {
		if !strings.Contains(options, want) {
			t.Errorf("stored DSN options %q missing %q", options, want)
		}
	}
	if parsed.Query().Get("sslmode") != "require" {
		t.Error("caller query parameters must survive normalization")
	}
}

func TestValidateSourceName(t *testing.T) {
	for _, name := range []string{"work", "prod-db", "a1_b2"} {
		if err := ValidateSourceName(name); err != nil {
			t.Errorf("ValidateSourceName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", "Work", "has space", "-lead", "dot.ted"} {
		if err := ValidateSourceName(name); err == nil {
			t.Errorf("ValidateSourceName(%q) should fail", name)
		}
	}
}

func TestDeleteSourceCascadesContexts(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.AddSource("work", "postgresql://u@h/db", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddContext("qpg://work/public", "schema note"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddContext("qpg://work", "source note"); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteSource("work"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	records, err := store.ListContexts("")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("contexts survived source delete: %v", records)
	}
}

func TestRenameSourceRewritesContexts(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.AddSource("work", "postgresql://u@h/db", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddContext("qpg://work/public.orders", "ledger"); err != nil {
		t.Fatal(err)
	}

	if err := store.RenameSource("work", "prod"); err != nil {
		t.Fatalf("RenameSource: %v", err)
	}
	src, err := store.GetSource("prod")
	if err != nil {
		t.Fatalf("renamed source missing: %v", err)
	}
	if src.LastIndexedAt != "" {
		t.Error("rename must clear last_indexed_at")
	}

	records, err := store.ListContexts("prod")
	if err != nil || len(records) != 1 {
		t.Fatalf("ListContexts = %v, %v", records, err)
	}
	if records[0].TargetURI != "qpg://prod/public.orders" {
		t.Errorf("target not rewritten: %s", records[0].TargetURI)
	}
}

func TestAddContextValidation(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.AddSource("work", "postgresql://u@h/db", nil, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := store.AddContext("qpg://missing/public", "x"); qerrors.KindOf(err) != qerrors.KindNotFound {
		t.Errorf("unknown source kind = %s", qerrors.KindOf(err))
	}
	if _, err := store.AddContext("http://work", "x"); qerrors.KindOf(err) != qerrors.KindConfigError {
		t.Errorf("bad scheme kind = %s", qerrors.KindOf(err))
	}
	if _, err := store.AddContext("qpg://work", "   "); qerrors.KindOf(err) != qerrors.KindConfigError {
		t.Errorf("empty body kind = %s", qerrors.KindOf(err))
	}

	if _, err := store.AddContext("qpg://work", "note"); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	if _, err := store.AddContext("qpg://work", "note"); err == nil {
		t.Error("identical context should be rejected")
	}
}

func TestRemoveContext(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.AddSource("work", "postgresql://u@h/db", nil, nil); err != nil {
		t.Fatal(err)
	}
	record, err := store.AddContext("qpg://work/public", "first")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddContext("qpg://work/public", "second"); err != nil {
		t.Fatal(err)
	}

	n, err := store.RemoveContext("qpg://work/public")
	if err != nil || n != 2 {
		t.Errorf("RemoveContext by target = %d, %v", n, err)
	}

	if _, err := store.AddContext("qpg://work/public", "again"); err != nil {
		t.Fatal(err)
	}
	records, _ := store.ListContexts("work")
	if len(records) != 1 {
		t.Fatalf("ListContexts = %v", records)
	}
	if _, err := store.RemoveContext("999999"); qerrors.KindOf(err) != qerrors.KindNotFound {
		t.Errorf("missing id kind = %s", qerrors.KindOf(err))
	}
	if n, err := store.RemoveContext(strconv.FormatInt(records[0].ID, 10)); err != nil || n != 1 {
		t.Errorf("RemoveContext by id = %d, %v", n, err)
	}
	_ = record
}

func seedObject(t *testing.T, store *Store, sourceID int64) {
	t.Helper()
	exec := func(query string, args ...any) {
		t.Helper()
		if _, err := store.DB().Exec(query, args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	exec(`INSERT INTO db_objects (id, source_id, schema_name, object_name, object_type,
        fqname, definition, comment, signature, owner)
        VALUES ('aaa111bbb222', ?, 'public', 'orders', 'table', 'public.orders',
        NULL, 'order ledger', 'id bigint, total numeric', 'app')`, sourceID)
	exec(`INSERT INTO db_objects (id, source_id, schema_name, object_name, object_type,
        fqname, signature, parent_object_id)
        VALUES ('ccc333ddd444', ?, 'public', 'orders.id', 'column', 'public.orders.id',
        'in public.orders', 'aaa111bbb222')`, sourceID)
	exec(`INSERT INTO db_objects (id, source_id, schema_name, object_name, object_type,
        fqname, definition)
        VALUES ('eee555fff666', ?, 'public', 'order_totals', 'view', 'public.order_totals',
        'SELECT ...')`, sourceID)
	exec(`INSERT INTO columns (object_id, column_name, data_type, is_nullable,
        ordinal_position, default_expr)
        VALUES ('aaa111bbb222', 'id', 'bigint', 0, 1, 'nextval(''orders_id_seq'')')`)
	exec(`INSERT INTO columns (object_id, column_name, data_type, is_nullable, ordinal_position)
        VALUES ('aaa111bbb222', 'total', 'numeric', 1, 2)`)
	exec(`INSERT INTO constraints (object_id, constraint_name, constraint_type, definition, columns_json)
        VALUES ('aaa111bbb222', 'orders_pkey', 'PRIMARY KEY', 'PRIMARY KEY (id)', '["id"]')`)
	exec(`INSERT INTO indexes (object_id, index_name, definition, is_unique, is_primary, columns_json)
        VALUES ('aaa111bbb222', 'orders_pkey', 'CREATE UNIQUE INDEX ...', 1, 1, '["id"]')`)
	exec(`INSERT INTO dependencies (object_id, depends_on_object_id, dependency_type)
        VALUES ('eee555fff666', 'aaa111bbb222', 'view')`)
	exec(`INSERT INTO object_context_effective (object_id, context_text)
        VALUES ('aaa111bbb222', 'orders are the billing ledger')`)
}

func TestGetObjectByFQName(t *testing.T) {
	store := openTestStore(t)
	src, err := store.AddSource("work", "postgresql://u@h/db", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	seedObject(t, store, src.ID)

	detail, err := store.GetObject("public.orders", "")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if detail.ObjectID != "aaa111bbb222" || detail.Kind != "table" || detail.Source != "work" {
		t.Errorf("unexpected detail: %+v", detail)
	}
	if len(detail.Columns) != 2 || detail.Columns[0].Name != "id" || detail.Columns[0].Nullable {
		t.Errorf("columns = %+v", detail.Columns)
	}
	if len(detail.Constraints) != 1 || detail.Constraints[0].Columns[0] != "id" {
		t.Errorf("constraints = %+v", detail.Constraints)
	}
	if len(detail.Indexes) != 1 || !detail.Indexes[0].IsPrimary {
		t.Errorf("indexes = %+v", detail.Indexes)
	}
	if len(detail.Dependents) != 1 || detail.Dependents[0].FQName != "public.order_totals" {
		t.Errorf("dependents = %+v", detail.Dependents)
	}
	if detail.Context != "orders are the billing ledger" {
		t.Errorf("context = %q", detail.Context)
	}
}

func TestGetObjectByIDFragment(t *testing.T) {
	store := openTestStore(t)
	src, err := store.AddSource("work", "postgresql://u@h/db", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	seedObject(t, store, src.ID)

	detail, err := store.GetObject("#eee555", "")
	if err != nil {
		t.Fatalf("GetObject by fragment: %v", err)
	}
	if detail.FQName != "public.order_totals" {
		t.Errorf("fragment resolved to %s", detail.FQName)
	}
	if len(detail.DependsOn) != 1 || detail.DependsOn[0].FQName != "public.orders" {
		t.Errorf("depends_on = %+v", detail.DependsOn)
	}

	if _, err := store.GetObject("#zzzz", ""); qerrors.KindOf(err) != qerrors.KindNotFound {
		t.Errorf("missing fragment kind = %s", qerrors.KindOf(err))
	}
}

func TestGetObjectAmbiguousAcrossSources(t *testing.T) {
	store := openTestStore(t)
	a, _ := store.AddSource("worka", "postgresql://u@h/a", nil, nil)
	b, _ := store.AddSource("workb", "postgresql://u@h/b", nil, nil)
	for i, src := range []*Source{a, b} {
		id := []string{"111111111111", "222222222222"}[i]
		if _, err := store.DB().Exec(
			`INSERT INTO db_objects (id, source_id, schema_name, object_name, object_type, fqname)
             VALUES (?, ?, 'public', 'orders', 'table', 'public.orders')`, id, src.ID); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := store.GetObject("public.orders", ""); err == nil {
		t.Fatal("ambiguous lookup should fail")
	} else if !strings.Contains(err.Error(), "multiple") {
		t.Errorf("unexpected error: %v", err)
	}

	detail, err := store.GetObject("public.orders", "workb")
	if err != nil {
		t.Fatalf("narrowed lookup: %v", err)
	}
	if detail.Source != "workb" {
		t.Errorf("source = %s", detail.Source)
	}
}

func TestStatusRedactsDSN(t *testing.T) {
	store := openTestStore(t)
	src, err := store.AddSource("work", "postgresql://app:hunter2@db:5432/prod", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	seedObject(t, store, src.ID)
	if err := store.MarkIndexed(src.ID); err != nil {
		t.Fatal(err)
	}

	report, err := store.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.SourceCount != 1 || report.ObjectCount != 3 {
		t.Errorf("counts = %d sources, %d objects", report.SourceCount, report.ObjectCount)
	}
	if report.ByKind["table"] != 1 || report.ByKind["view"] != 1 || report.ByKind["column"] != 1 {
		t.Errorf("by_kind = %v", report.ByKind)
	}
	if len(report.Sources) != 1 {
		t.Fatalf("sources = %v", report.Sources)
	}
	row := report.Sources[0]
	if strings.Contains(row.DSN, "hunter2") {
		t.Errorf("status leaked password: %s", row.DSN)
	}
	if !strings.Contains(row.DSN, "***") {
		t.Errorf("DSN not visibly redacted: %s", row.DSN)
	}
	if row.LastIndexedAt == "" {
		t.Error("last_indexed_at not set by MarkIndexed")
	}
}

func TestMarkErrorKeepsLastIndexed(t *testing.T) {
	store := openTestStore(t)
	src, err := store.AddSource("work", "postgresql://u@h/db", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.MarkIndexed(src.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkError(src.ID, "connection refused"); err != nil {
		t.Fatal(err)
	}

	src, err = store.GetSource("work")
	if err != nil {
		t.Fatal(err)
	}
	if src.LastIndexedAt == "" {
		t.Error("MarkError must not clear last_indexed_at")
	}
	if src.LastError != "connection refused" {
		t.Errorf("last_error = %q", src.LastError)
	}
}

func TestCleanupPurgesExpiredCache(t *testing.T) {
	store := openTestStore(t)
	exec := func(query string, args ...any) {
		t.Helper()
		if _, err := store.DB().Exec(query, args...); err != nil {
			t.Fatal(err)
		}
	}
	exec(`INSERT INTO llm_cache (key, value_json, expires_at) VALUES ('old', '{}', '2000-01-01T00:00:00Z')`)
	exec(`INSERT INTO llm_cache (key, value_json, expires_at) VALUES ('fresh', '{}', '2999-01-01T00:00:00Z')`)
	exec(`INSERT INTO llm_cache (key, value_json) VALUES ('pinned', '{}')`)

	if err := store.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM llm_cache`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("llm_cache rows after cleanup = %d, want 2", count)
	}
}

func TestQuickCheck(t *testing.T) {
	store := openTestStore(t)
	if err := store.QuickCheck(); err != nil {
		t.Errorf("QuickCheck on fresh catalog: %v", err)
	}
}
