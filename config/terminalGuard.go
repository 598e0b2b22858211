package config

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	lifecycleStateColumn = "lifecycle_state"
	lifecycleStateOpen   = "open"
)

// TerminalGuardPlugin scopes every gorm update/delete on a model with a
// lifecycle_state column to rows that are still open. Completed and cancelled
// investigations therefore cannot be rewritten through gorm, whatever the caller.
//
// NOTE:
// - This does NOT apply to Raw SQL. Those statements must check the state manually.
type TerminalGuardPlugin struct{}

func NewTerminalGuardPlugin() *TerminalGuardPlugin { return &TerminalGuardPlugin{} }

func (p *TerminalGuardPlugin) Name() string { return "terminal_guard" }

func (p *TerminalGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").Register("terminal_guard:update", terminalGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("terminal_guard:delete", terminalGuardCallback); err != nil {
		return err
	}
	return nil
}

func terminalGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil || db.Statement.Schema == nil {
		return
	}
	hasState := false
	for _, f := range db.Statement.Schema.Fields {
		if strings.EqualFold(f.DBName, lifecycleStateColumn) {
			hasState = true
			break
		}
	}
	if !hasState {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: lifecycleStateColumn},
				Value:  lifecycleStateOpen,
			},
		},
	})
}
