/*-------------------------------------------------------------------------
 *
 * QPG - Index Build and Search Tests
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package index

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"qpg/internal/catalog"
	"qpg/internal/embedding"
	qerrors "qpg/internal/errors"
	"qpg/internal/introspect"
	"qpg/internal/normalize"
)

func testBundle() *introspect.Bundle {
	return &introspect.Bundle{
		Objects: []introspect.Object{
			{SchemaName: "public", ObjectName: "orders", ObjectType: "table",
				Comment: "order ledger", Owner: "app"},
			{SchemaName: "public", ObjectName: "refund_events", ObjectType: "table",
				Comment: "refund audit trail", Owner: "app"},
			{SchemaName: "public", ObjectName: "order_totals", ObjectType: "view",
				Definition: "SELECT order_id, sum(amount) FROM public.orders GROUP BY 1"},
		},
		Columns: []introspect.Column{
			{ParentFQName: "public.orders", ColumnName: "id", DataType: "bigint", Ordinal: 1,
				DefaultExpr: "nextval('orders_id_seq')"},
			{ParentFQName: "public.orders", ColumnName: "amount", DataType: "numeric",
				IsNullable: true, Ordinal: 2},
			{ParentFQName: "public.refund_events", ColumnName: "order_id", DataType: "bigint",
				Ordinal: 1},
		},
		Constraints: []introspect.Constraint{
			{ParentFQName: "public.orders", ConstraintName: "orders_pkey",
				ConstraintType: "PRIMARY KEY", Definition: "PRIMARY KEY (id)", Columns: []string{"id"}},
		},
		Indexes: []introspect.Index{
			{ParentFQName: "public.orders", IndexName: "orders_pkey",
				Definition: "CREATE UNIQUE INDEX orders_pkey ON public.orders (id)",
				IsUnique:   true, IsPrimary: true, Columns: []string{"id"}},
		},
		Dependencies: []introspect.Dependency{
			{FromFQName: "public.order_totals", ToFQName: "public.orders", DependencyType: "view"},
		},
	}
}

func buildTestIndex(t *testing.T) (*catalog.Store, *catalog.Source) {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	src, err := store.AddSource("work", "postgresql://u@h/db", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddContext("qpg://work/public.orders", "orders is the billing ledger"); err != nil {
		t.Fatal(err)
	}

	provider := embedding.NewLocalEmbedder(embedding.DefaultModelID)
	stats, err := BuildSource(context.Background(), store, src, testBundle(), provider)
	if err != nil {
		t.Fatalf("BuildSource: %v", err)
	}
	// 3 roots + 3 columns + 1 constraint + 1 index.
	if stats.Objects != 8 {
		t.Errorf("stats.Objects = %d, want 8", stats.Objects)
	}
	if stats.Vectors != 8 {
		t.Errorf("stats.Vectors = %d, want 8", stats.Vectors)
	}
	return store, src
}

func TestBuildSourceRoundTrip(t *testing.T) {
	store, _ := buildTestIndex(t)

	detail, err := store.GetObject("public.orders", "work")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	wantID := normalize.MakeObjectID("work", "table", "public.orders")
	if detail.ObjectID != wantID {
		t.Errorf("object id = %s, want %s", detail.ObjectID, wantID)
	}
	if len(detail.Columns) != 2 || len(detail.Constraints) != 1 || len(detail.Indexes) != 1 {
		t.Errorf("structure = %d cols, %d cons, %d idxs",
			len(detail.Columns), len(detail.Constraints), len(detail.Indexes))
	}
	if len(detail.Dependents) != 1 || detail.Dependents[0].FQName != "public.order_totals" {
		t.Errorf("dependents = %+v", detail.Dependents)
	}
	if detail.Context != "orders is the billing ledger" {
		t.Errorf("context = %q", detail.Context)
	}

	child, err := store.GetObject("public.orders.amount", "work")
	if err != nil {
		t.Fatalf("child lookup: %v", err)
	}
	if child.Kind != "column" || child.Signature != "in public.orders" {
		t.Errorf("child = %+v", child)
	}
	// Children inherit the parent object's context.
	if child.Context != "orders is the billing ledger" {
		t.Errorf("child context = %q", child.Context)
	}
}

func TestBuildSourceIndexesConstraintAndIndexChildren(t *testing.T) {
	store, _ := buildTestIndex(t)

	// The constraint and the backing index share a name, so lookups go
	// through the kind-qualified object id.
	conID := normalize.MakeObjectID("work", "constraint", "public.orders.orders_pkey")
	con, err := store.GetObject("#"+conID, "work")
	if err != nil {
		t.Fatalf("constraint lookup: %v", err)
	}
	if con.Kind != "constraint" || con.Signature != "in public.orders" {
		t.Errorf("constraint child = kind %s, signature %q", con.Kind, con.Signature)
	}
	if con.Context != "orders is the billing ledger" {
		t.Errorf("constraint context = %q", con.Context)
	}

	idxID := normalize.MakeObjectID("work", "index", "public.orders.orders_pkey")
	idx, err := store.GetObject("#"+idxID, "work")
	if err != nil {
		t.Fatalf("index lookup: %v", err)
	}
	if idx.Kind != "index" || !strings.Contains(idx.Definition, "CREATE UNIQUE INDEX") {
		t.Errorf("index child = kind %s, definition %q", idx.Kind, idx.Definition)
	}

	results, err := SearchLexical(store.DB(), "pkey", Filters{Kind: "constraint"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ObjectID != conID {
		t.Errorf("constraint not searchable: %+v", results)
	}
	results, err = SearchLexical(store.DB(), "pkey", Filters{Kind: "index"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ObjectID != idxID {
		t.Errorf("index not searchable: %+v", results)
	}
}

func TestBuildSourceIsIdempotent(t *testing.T) {
	store, src := buildTestIndex(t)

	provider := embedding.NewLocalEmbedder(embedding.DefaultModelID)
	if _, err := BuildSource(context.Background(), store, src, testBundle(), provider); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var count int
	if err := store.DB().QueryRow(
		`SELECT COUNT(*) FROM db_objects WHERE source_id = ?`, src.ID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 8 {
		t.Errorf("objects after rebuild = %d, want 8", count)
	}
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM objects_fts`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 8 {
		t.Errorf("fts rows after rebuild = %d, want 8", count)
	}
}

func TestBuildSourceReplacesDroppedObjects(t *testing.T) {
	store, src := buildTestIndex(t)

	shrunk := testBundle()
	shrunk.Objects = shrunk.Objects[:1]
	shrunk.Dependencies = nil
	provider := embedding.NewLocalEmbedder(embedding.DefaultModelID)
	if _, err := BuildSource(context.Background(), store, src, shrunk, provider); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if _, err := store.GetObject("public.refund_events", "work"); qerrors.KindOf(err) != qerrors.KindNotFound {
		t.Errorf("dropped object still resolvable, kind = %s", qerrors.KindOf(err))
	}
	results, err := SearchLexical(store.DB(), "refund", Filters{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("dropped object still searchable: %+v", results)
	}
}

func TestBuildSourceSchemaConflict(t *testing.T) {
	store, src := buildTestIndex(t)

	conflicted := testBundle()
	conflicted.Objects = append(conflicted.Objects, conflicted.Objects[0])
	_, err := BuildSource(context.Background(), store, src, conflicted, nil)
	if qerrors.KindOf(err) != qerrors.KindSchemaConflict {
		t.Fatalf("kind = %s, want schema_conflict", qerrors.KindOf(err))
	}

	// The failed build must not have touched the existing index.
	if _, err := store.GetObject("public.orders", "work"); err != nil {
		t.Errorf("previous index damaged by failed build: %v", err)
	}
}

func TestSearchLexical(t *testing.T) {
	store, _ := buildTestIndex(t)

	results, err := SearchLexical(store.DB(), "refund audit", Filters{}, 10)
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no lexical hits")
	}
	if results[0].FQName != "public.refund_events" {
		t.Errorf("top hit = %s", results[0].FQName)
	}
	if results[0].Score <= 0 || results[0].Score > 1 {
		t.Errorf("score out of range: %f", results[0].Score)
	}

	filtered, err := SearchLexical(store.DB(), "refund audit", Filters{Kind: "view"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range filtered {
		if r.Kind != "view" {
			t.Errorf("kind filter leaked %s", r.Kind)
		}
	}
}

func TestSearchLexicalEmptyQuery(t *testing.T) {
	store, _ := buildTestIndex(t)
	results, err := SearchLexical(store.DB(), "!!! ???", Filters{}, 10)
	if err != nil {
		t.Fatalf("SearchLexical: %v", err)
	}
	if results != nil {
		t.Errorf("symbol-only query should return nothing, got %+v", results)
	}
}

func TestMakeMatchQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"refund events", `"refund" OR "events"`},
		{`orders"; DROP TABLE`, `"orders" OR "DROP" OR "TABLE"`},
		{"order_total", `"order_total"`},
		{"---", ""},
	}
	for _, tt := range tests {
		if got := MakeMatchQuery(tt.in); got != tt.want {
			t.Errorf("MakeMatchQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVectorSearch(t *testing.T) {
	store, _ := buildTestIndex(t)
	provider := embedding.NewLocalEmbedder(embedding.DefaultModelID)

	queryVector, err := provider.Embed(context.Background(),
		"public.refund_events\nrefund audit trail\n\n")
	if err != nil {
		t.Fatal(err)
	}
	results, err := VectorSearch(store.DB(), queryVector, provider.ModelName(), Filters{}, 10)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no vector hits")
	}
	if results[0].FQName != "public.refund_events" {
		t.Errorf("top vector hit = %s (score %f)", results[0].FQName, results[0].Score)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Error("vector results not sorted by score")
		}
	}
}

func TestVectorSearchTieBreaksOnObjectID(t *testing.T) {
	store, _ := buildTestIndex(t)
	provider := embedding.NewLocalEmbedder(embedding.DefaultModelID)

	queryVector, err := provider.Embed(context.Background(), "ledger")
	if err != nil {
		t.Fatal(err)
	}
	// Force every candidate to the same score; ordering must then be
	// fully determined by object id.
	if _, err := store.DB().Exec(
		`UPDATE object_vectors SET embedding = ?`, EncodeVector(queryVector)); err != nil {
		t.Fatal(err)
	}

	results, err := VectorSearch(store.DB(), queryVector, provider.ModelName(), Filters{}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) < 2 {
		t.Fatalf("want several tied hits, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].ObjectID >= results[i].ObjectID {
			t.Errorf("tied results out of id order: %s before %s",
				results[i-1].ObjectID, results[i].ObjectID)
		}
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	vector := []float32{0.123456789, -1, 0}
	encoded := EncodeVector(vector)
	if !strings.HasPrefix(encoded, "[") {
		t.Fatalf("encoded = %s", encoded)
	}
	decoded, err := DecodeVector([]byte(encoded))
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 3 {
		t.Fatalf("len = %d", len(decoded))
	}
	if math.Abs(float64(decoded[0])-0.12345679) > 1e-7 {
		t.Errorf("rounding: %v", decoded[0])
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	if got := cosineSimilarity(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("self similarity = %f", got)
	}
	if got := cosineSimilarity(a, []float32{0, 1, 0}); got != 0 {
		t.Errorf("orthogonal similarity = %f", got)
	}
	if got := cosineSimilarity(a, []float32{0, 0}); got != 0 {
		t.Errorf("mismatched lengths = %f", got)
	}
}

func TestRefreshContextsAfterNewNote(t *testing.T) {
	store, _ := buildTestIndex(t)
	provider := embedding.NewLocalEmbedder(embedding.DefaultModelID)

	if _, err := store.AddContext("qpg://work/public.refund_events",
		"chargebacks land here"); err != nil {
		t.Fatal(err)
	}
	if err := RefreshContexts(context.Background(), store, "work", provider); err != nil {
		t.Fatalf("RefreshContexts: %v", err)
	}

	detail, err := store.GetObject("public.refund_events", "work")
	if err != nil {
		t.Fatal(err)
	}
	if detail.Context != "chargebacks land here" {
		t.Errorf("context = %q", detail.Context)
	}

	// The new note is searchable without reconnecting to the source.
	results, err := SearchLexical(store.DB(), "chargebacks", Filters{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].FQName != "public.refund_events" {
		t.Errorf("context not searchable: %+v", results)
	}
}

func TestRefreshContextsRemoval(t *testing.T) {
	store, _ := buildTestIndex(t)

	if _, err := store.RemoveContext("qpg://work/public.orders"); err != nil {
		t.Fatal(err)
	}
	if err := RefreshContexts(context.Background(), store, "work", nil); err != nil {
		t.Fatal(err)
	}

	detail, err := store.GetObject("public.orders", "work")
	if err != nil {
		t.Fatal(err)
	}
	if detail.Context != "" {
		t.Errorf("context survived removal: %q", detail.Context)
	}
}

func TestRefreshContextsSkipsUnchangedVectors(t *testing.T) {
	store, _ := buildTestIndex(t)
	provider := embedding.NewLocalEmbedder(embedding.DefaultModelID)

	// Plant a sentinel embedding behind an up-to-date hash: a refresh
	// that recomputes only changed dense texts must leave it alone.
	viewID := normalize.MakeObjectID("work", "view", "public.order_totals")
	if _, err := store.DB().Exec(
		`UPDATE object_vectors SET embedding = '[9.9]' WHERE object_id = ?`, viewID); err != nil {
		t.Fatal(err)
	}

	if err := RefreshContexts(context.Background(), store, "work", provider); err != nil {
		t.Fatalf("RefreshContexts: %v", err)
	}

	var blob string
	if err := store.DB().QueryRow(
		`SELECT embedding FROM object_vectors WHERE object_id = ?`, viewID).Scan(&blob); err != nil {
		t.Fatal(err)
	}
	if blob != "[9.9]" {
		t.Error("vector re-embedded although its dense text did not change")
	}

	// A new note changes the dense text, so the vector is rebuilt.
	if _, err := store.AddContext("qpg://work/public.order_totals", "rollup view"); err != nil {
		t.Fatal(err)
	}
	if err := RefreshContexts(context.Background(), store, "work", provider); err != nil {
		t.Fatal(err)
	}
	if err := store.DB().QueryRow(
		`SELECT embedding FROM object_vectors WHERE object_id = ?`, viewID).Scan(&blob); err != nil {
		t.Fatal(err)
	}
	if blob == "[9.9]" {
		t.Error("vector not rebuilt after its context changed")
	}
}

func TestRebuildFTS(t *testing.T) {
	store, _ := buildTestIndex(t)

	if _, err := store.DB().Exec(`DELETE FROM objects_fts`); err != nil {
		t.Fatal(err)
	}
	if err := RebuildFTS(store.DB(), ""); err != nil {
		t.Fatalf("RebuildFTS: %v", err)
	}
	results, err := SearchLexical(store.DB(), "orders", Filters{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Error("rebuilt fts has no rows")
	}
}
