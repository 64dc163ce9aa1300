/*-------------------------------------------------------------------------
 *
 * QPG - Hybrid Search Tests
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package query

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"qpg/internal/catalog"
	"qpg/internal/embedding"
	qerrors "qpg/internal/errors"
	"qpg/internal/index"
	"qpg/internal/introspect"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			"synonyms and plurals", "refund events",
			[]string{"refund events", "chargeback event events refund refunds reversal"},
		},
		{
			"camel case split", "refundEvents",
			[]string{"refundEvents", "chargeback event events refund refundevent refundevents refunds reversal"},
		},
		{
			"already canonical single token", "invoices",
			[]string{"invoices", "invoice invoices"},
		},
		{
			"no tokens", "  ",
			[]string{"  "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expand(tt.query)
			if len(got) != len(tt.want) {
				t.Fatalf("Expand(%q) = %q, want %q", tt.query, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expand(%q)[%d] = %q, want %q", tt.query, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExpandKeepsOriginalFirst(t *testing.T) {
	got := Expand("payment status")
	if got[0] != "payment status" {
		t.Errorf("original variant must come first, got %q", got[0])
	}
}

func TestFuseRanksSharedHitsHigher(t *testing.T) {
	shared := index.Result{ObjectID: "aaa", FQName: "public.orders"}
	lexOnly := index.Result{ObjectID: "bbb", FQName: "public.order_totals"}
	vecOnly := index.Result{ObjectID: "ccc", FQName: "public.refunds"}

	fused := Fuse(map[string][]index.Result{
		"lexical:0": {shared, lexOnly},
		"vector":    {vecOnly, shared},
	})

	if fused[0].ObjectID != "aaa" {
		t.Errorf("shared hit should fuse highest, got %s", fused[0].ObjectID)
	}
	// Rank 1 lexical (with bonus) plus rank 2 vector.
	wantShared := 1.0/float64(rrfK+1) + topRankBonus + 1.0/float64(rrfK+2)
	if math.Abs(fused[0].RRFScore-wantShared) > 1e-12 {
		t.Errorf("shared score = %v, want %v", fused[0].RRFScore, wantShared)
	}
}

func TestFuseTopRankBonus(t *testing.T) {
	// One channel's first hit beats an object holding rank 2 twice:
	// 1/61 + 1/60 > 2/62.
	winner := index.Result{ObjectID: "refund_events_id", FQName: "public.refund_events"}
	runnerUp := index.Result{ObjectID: "aaa", FQName: "public.orders"}

	fused := Fuse(map[string][]index.Result{
		"lexical:0": {index.Result{ObjectID: "xxx"}, runnerUp},
		"vector":    {winner, runnerUp},
	})

	if fused[0].ObjectID != "refund_events_id" {
		t.Errorf("rank-1 vector hit should win, got %s", fused[0].ObjectID)
	}
}

func TestFuseTieBreaksByObjectID(t *testing.T) {
	fused := Fuse(map[string][]index.Result{
		"lexical:0": {
			{ObjectID: "zzz"}, {ObjectID: "mmm"},
		},
		"vector": {
			{ObjectID: "mmm"}, {ObjectID: "zzz"},
		},
	})
	// Identical scores: both rank 1 once and rank 2 once.
	if fused[0].ObjectID != "mmm" || fused[1].ObjectID != "zzz" {
		t.Errorf("tie not broken by object id: %s, %s", fused[0].ObjectID, fused[1].ObjectID)
	}
}

func TestFuseDeterministic(t *testing.T) {
	channels := map[string][]index.Result{
		"lexical:0": {{ObjectID: "a"}, {ObjectID: "b"}},
		"lexical:1": {{ObjectID: "b"}, {ObjectID: "c"}},
		"vector":    {{ObjectID: "c"}, {ObjectID: "a"}},
	}
	first := Fuse(channels)
	for n := 0; n < 10; n++ {
		again := Fuse(channels)
		for i := range first {
			if first[i].ObjectID != again[i].ObjectID {
				t.Fatal("fusion order is not deterministic")
			}
		}
	}
}

func writeHook(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("hook tests use shell scripts")
	}
	path := filepath.Join(t.TempDir(), "hook.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func rerankCandidates() []Fused {
	return []Fused{
		{Result: index.Result{ObjectID: "aaa"}, RRFScore: 0.3},
		{Result: index.Result{ObjectID: "bbb"}, RRFScore: 0.2},
		{Result: index.Result{ObjectID: "ccc"}, RRFScore: 0.1},
	}
}

func TestRerankPermutation(t *testing.T) {
	hook := writeHook(t, `echo '["ccc","aaa","bbb"]'`)
	t.Setenv(RerankHookEnv, hook)

	got, err := Rerank(context.Background(), "q", rerankCandidates())
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	want := []string{"ccc", "aaa", "bbb"}
	for i, id := range want {
		if got[i].ObjectID != id {
			t.Errorf("got[%d] = %s, want %s", i, got[i].ObjectID, id)
		}
	}
}

func TestRerankStdinShape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook tests use shell scripts")
	}
	captured := filepath.Join(t.TempDir(), "stdin.json")
	hook := writeHook(t, `cat - > `+captured+`
echo '["aaa","bbb","ccc"]'`)
	t.Setenv(RerankHookEnv, hook)

	if _, err := Rerank(context.Background(), "refund flow", rerankCandidates()); err != nil {
		t.Fatalf("Rerank: %v", err)
	}

	data, err := os.ReadFile(captured)
	if err != nil {
		t.Fatal(err)
	}
	var payload struct {
		Query   string `json:"query"`
		Results []struct {
			ObjectID string   `json:"object_id"`
			Score    *float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("hook stdin is not valid JSON: %v", err)
	}
	if payload.Query != "refund flow" {
		t.Errorf("query = %q", payload.Query)
	}
	if len(payload.Results) != 3 {
		t.Fatalf("results count = %d, want 3", len(payload.Results))
	}
	if payload.Results[0].ObjectID != "aaa" || payload.Results[0].Score == nil {
		t.Errorf("first entry = %+v, want object_id and score set", payload.Results[0])
	}
}

func TestRerankRejectsBadOutput(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"unknown id", `echo '["aaa","bbb","zzz"]'`},
		{"missing id", `echo '["aaa","bbb"]'`},
		{"duplicate id", `echo '["aaa","aaa","bbb"]'`},
		{"not json", `echo 'aaa bbb ccc'`},
		{"nonzero exit", `exit 3`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := writeHook(t, tt.script)
			t.Setenv(RerankHookEnv, hook)

			got, err := Rerank(context.Background(), "q", rerankCandidates())
			if qerrors.KindOf(err) != qerrors.KindHookError {
				t.Fatalf("kind = %s, want hook_error", qerrors.KindOf(err))
			}
			// Fused order must survive the failure.
			for i, id := range []string{"aaa", "bbb", "ccc"} {
				if got[i].ObjectID != id {
					t.Errorf("fused order lost: got[%d] = %s", i, got[i].ObjectID)
				}
			}
		})
	}
}

func TestRerankNoHookConfigured(t *testing.T) {
	t.Setenv(RerankHookEnv, "")
	got, err := Rerank(context.Background(), "q", rerankCandidates())
	if err != nil {
		t.Fatalf("Rerank without hook: %v", err)
	}
	if got[0].ObjectID != "aaa" {
		t.Errorf("order changed without a hook: %s", got[0].ObjectID)
	}
}

func plannerFixture(t *testing.T) *Planner {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	src, err := store.AddSource("work", "postgresql://u@h/db", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	bundle := &introspect.Bundle{
		Objects: []introspect.Object{
			{SchemaName: "public", ObjectName: "refund_events", ObjectType: "table",
				Comment: "refund audit trail"},
			{SchemaName: "public", ObjectName: "orders", ObjectType: "table",
				Comment: "order ledger"},
			{SchemaName: "billing", ObjectName: "invoices", ObjectType: "table",
				Comment: "issued invoices"},
		},
	}
	provider := embedding.NewLocalEmbedder(embedding.DefaultModelID)
	if _, err := index.BuildSource(context.Background(), store, src, bundle, provider); err != nil {
		t.Fatal(err)
	}
	return &Planner{Store: store, Provider: provider}
}

func TestPlannerSearch(t *testing.T) {
	planner := plannerFixture(t)

	results, err := planner.Search(context.Background(), "refund events", Options{Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].FQName != "public.refund_events" {
		t.Errorf("top hit = %s", results[0].FQName)
	}
	if results[0].RRFScore <= 0 {
		t.Errorf("rrf score = %f", results[0].RRFScore)
	}
}

func TestPlannerSearchFilters(t *testing.T) {
	planner := plannerFixture(t)

	results, err := planner.Search(context.Background(), "invoices",
		Options{Limit: 10, Filters: index.Filters{Schema: "billing"}})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Schema != "billing" {
			t.Errorf("schema filter leaked %s", r.FQName)
		}
	}
}

func TestPlannerSearchEmptyQuery(t *testing.T) {
	planner := plannerFixture(t)
	if _, err := planner.Search(context.Background(), "", Options{}); qerrors.KindOf(err) != qerrors.KindConfigError {
		t.Errorf("kind = %s, want config_error", qerrors.KindOf(err))
	}
}

func TestPlannerDeepSearchDegradesOnHookFailure(t *testing.T) {
	planner := plannerFixture(t)
	hook := writeHook(t, `exit 1`)
	t.Setenv(RerankHookEnv, hook)

	results, err := planner.Search(context.Background(), "orders", Options{Limit: 5, Deep: true})
	if qerrors.KindOf(err) != qerrors.KindHookError {
		t.Fatalf("kind = %s, want hook_error", qerrors.KindOf(err))
	}
	if len(results) == 0 {
		t.Error("hook failure must not drop results")
	}
}
