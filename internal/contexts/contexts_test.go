/*-------------------------------------------------------------------------
 *
 * QPG - Context Inheritance Tests
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package contexts

import "testing"

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   Scope
	}{
		{"source only", "qpg://work", Scope{Source: "work"}},
		{"schema", "qpg://work/billing", Scope{Source: "work", Schema: "billing"}},
		{
			"schema dot object", "qpg://work/billing.invoices",
			Scope{Source: "work", Schema: "billing", ObjectName: "invoices"},
		},
		{
			"schema slash object", "qpg://work/billing/invoices",
			Scope{Source: "work", Schema: "billing", ObjectName: "invoices"},
		},
		{"object id fragment", "qpg://work#deadbeef1234", Scope{Source: "work", ObjectID: "deadbeef1234"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.target)
			if err != nil {
				t.Fatalf("ParseTarget(%q) error: %v", tt.target, err)
			}
			if got != tt.want {
				t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.target, got, tt.want)
			}
		})
	}
}

func TestParseTargetInvalid(t *testing.T) {
	for _, target := range []string{
		"http://work",
		"qpg://",
		"not a uri at all://",
	} {
		if _, err := ParseTarget(target); err == nil {
			t.Errorf("ParseTarget(%q) should fail", target)
		}
	}
}

func TestApplies(t *testing.T) {
	orders := ObjectRef{Source: "work", Schema: "public", ObjectName: "orders", ObjectID: "aaa111bbb222"}
	ordersID := ObjectRef{Source: "work", Schema: "public", ObjectName: "orders.id", ObjectID: "ccc333ddd444"}

	tests := []struct {
		name  string
		scope Scope
		obj   ObjectRef
		want  bool
	}{
		{"source scope", Scope{Source: "work"}, orders, true},
		{"wrong source", Scope{Source: "other"}, orders, false},
		{"schema scope", Scope{Source: "work", Schema: "public"}, orders, true},
		{"wrong schema", Scope{Source: "work", Schema: "billing"}, orders, false},
		{"object scope", Scope{Source: "work", Schema: "public", ObjectName: "orders"}, orders, true},
		{"object scope covers child", Scope{Source: "work", Schema: "public", ObjectName: "orders"}, ordersID, true},
		{"child scope excludes parent", Scope{Source: "work", Schema: "public", ObjectName: "orders.id"}, orders, false},
		{"object id scope", Scope{Source: "work", ObjectID: "aaa111bbb222"}, orders, true},
		{"wrong object id", Scope{Source: "work", ObjectID: "eee555fff666"}, orders, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Applies(tt.scope, tt.obj); got != tt.want {
				t.Errorf("Applies() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveEffectiveOrder(t *testing.T) {
	records := []Record{
		{ID: 1, TargetURI: "qpg://work/public.orders", Body: "object note"},
		{ID: 2, TargetURI: "qpg://work", Body: "source note"},
		{ID: 3, TargetURI: "qpg://work/public", Body: "schema note"},
	}

	got := ResolveEffective(records, ObjectRef{
		Source: "work", Schema: "public", ObjectName: "orders", ObjectID: "aaa111bbb222",
	})
	want := "source note\nschema note\nobject note"
	if got != want {
		t.Errorf("ResolveEffective() = %q, want %q", got, want)
	}
}

func TestResolveEffectiveChildInheritsTable(t *testing.T) {
	records := []Record{
		{ID: 1, TargetURI: "qpg://work/public.orders", Body: "order ledger"},
		{ID: 2, TargetURI: "qpg://work/public.orders.id", Body: "surrogate key"},
	}

	got := ResolveEffective(records, ObjectRef{
		Source: "work", Schema: "public", ObjectName: "orders.id", ObjectID: "ccc333ddd444",
	})
	want := "order ledger\nsurrogate key"
	if got != want {
		t.Errorf("child context = %q, want %q", got, want)
	}
}

func TestResolveEffectiveDedup(t *testing.T) {
	records := []Record{
		{ID: 1, TargetURI: "qpg://work", Body: "shared note"},
		{ID: 2, TargetURI: "qpg://work/public", Body: "shared note"},
	}

	got := ResolveEffective(records, ObjectRef{
		Source: "work", Schema: "public", ObjectName: "orders", ObjectID: "aaa111bbb222",
	})
	if got != "shared note" {
		t.Errorf("duplicate body not collapsed: %q", got)
	}
}

func TestResolveEffectiveNoMatch(t *testing.T) {
	records := []Record{
		{ID: 1, TargetURI: "qpg://other", Body: "irrelevant"},
	}
	got := ResolveEffective(records, ObjectRef{Source: "work", Schema: "public", ObjectName: "orders"})
	if got != "" {
		t.Errorf("expected empty context, got %q", got)
	}
}
