package config

import (
	"context"
	"testing"

	"github.com/mmdatafocus/mrv_backend/appctx"
	"gorm.io/gorm/clause"
)

func TestFarmerScopeFromContext(t *testing.T) {
	ctx := appctx.Set(context.Background(), appctx.ContextKeyFarmerScope, 7)
	if id, ok := farmerScopeFromContext(ctx); !ok || id != 7 {
		t.Fatalf("expected scope 7, got %d ok=%v", id, ok)
	}
	skip := appctx.Set(ctx, appctx.ContextKeySkipOwnerScope, true)
	if _, ok := farmerScopeFromContext(skip); ok {
		t.Fatalf("skip flag must disable scoping")
	}
	if _, ok := farmerScopeFromContext(context.Background()); ok {
		t.Fatalf("no scope expected without farmer id")
	}
}

func TestWhereHasColumn(t *testing.T) {
	cases := []struct {
		name string
		expr clause.Expression
		want bool
	}{
		{"eq string", clause.Eq{Column: "farmer_id", Value: 1}, true},
		{"eq column", clause.Eq{Column: clause.Column{Name: "FARMER_ID"}, Value: 1}, true},
		{"other column", clause.Eq{Column: "status", Value: "verified"}, false},
		{"nested and", clause.AndConditions{Exprs: []clause.Expression{clause.Eq{Column: "farmer_id"}}}, true},
		{"raw", clause.Expr{SQL: "farmer_id = ?"}, true},
	}
	for _, tc := range cases {
		c := clause.Clause{Expression: clause.Where{Exprs: []clause.Expression{tc.expr}}}
		if got := whereHasColumn(c, "farmer_id"); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
