package config

import (
	"context"
	"strings"

	"github.com/mmdatafocus/mrv_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// OwnerScopePlugin scopes queries, updates and deletes on tables with a
// farmer_id column to the farmer the request was authorized for.
//
// NOTE:
// - Raw SQL is not scoped.
// - Workers and rollups bypass via appctx.ContextKeySkipOwnerScope.
type OwnerScopePlugin struct{}

func NewOwnerScopePlugin() *OwnerScopePlugin { return &OwnerScopePlugin{} }

func (p *OwnerScopePlugin) Name() string { return "owner_scope" }

func (p *OwnerScopePlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("owner_scope:query", ownerScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("owner_scope:row", ownerScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("owner_scope:update", ownerScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("owner_scope:delete", ownerScopeCallback); err != nil {
		return err
	}
	return nil
}

func ownerScopeCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil || db.Statement.Schema == nil {
		return
	}
	farmerID, ok := farmerScopeFromContext(db.Statement.Context)
	if !ok {
		return
	}
	if !hasColumn(db.Statement.Schema.Fields, "farmer_id") {
		return
	}
	// Don't duplicate an explicit owner filter.
	if whereHasColumn(db.Statement.Clauses["WHERE"], "farmer_id") {
		return
	}
	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "farmer_id"},
				Value:  farmerID,
			},
		},
	})
}

func farmerScopeFromContext(ctx context.Context) (int, bool) {
	if ctx == nil {
		return 0, false
	}
	if skip, ok := appctx.GetBool(ctx, appctx.ContextKeySkipOwnerScope); ok && skip {
		return 0, false
	}
	id, ok := appctx.GetInt(ctx, appctx.ContextKeyFarmerScope)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

func hasColumn(fields []*schema.Field, name string) bool {
	for _, f := range fields {
		if strings.EqualFold(f.DBName, name) {
			return true
		}
	}
	return false
}

func whereHasColumn(c clause.Clause, name string) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasColumn(e, name) {
			return true
		}
	}
	return false
}

func exprHasColumn(e clause.Expression, name string) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIs(v.Column, name)
	case clause.Neq:
		return colIs(v.Column, name)
	case clause.IN:
		return colIs(v.Column, name)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasColumn(x, name) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasColumn(x, name) {
				return true
			}
		}
		return false
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), name)
	default:
		return false
	}
}

func colIs(col any, name string) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, name)
	case clause.Column:
		return strings.EqualFold(c.Name, name)
	default:
		return false
	}
}
