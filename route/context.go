package route

import (
	"strings"

	"gorm/shardroute/keygen"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

// TableUnit maps a logic table to the actual table chosen for one routing unit.
type TableUnit struct {
	Logic  string
	Actual string
}

// RoutingUnit is one physical destination of a statement.
type RoutingUnit struct {
	// DataSourceName is the physical data source, after master-slave resolution.
	DataSourceName string
	// LogicDataSourceName is the data source named by the table rule.
	LogicDataSourceName string
	TableUnits          []TableUnit
}

// ActualTable returns the actual table for logic in this unit.
func (u RoutingUnit) ActualTable(logic string) (string, bool) {
	for _, t := range u.TableUnits {
		if strings.EqualFold(t.Logic, logic) {
			return t.Actual, true
		}
	}
	return "", false
}

// RouteContext is the outcome of routing one statement; it is not modified after Route returns.
type RouteContext struct {
	Statement    *statement.Context
	Params       []any
	Units        []RoutingUnit
	GeneratedKey *keygen.GeneratedKey
	// InsertNodes holds the destination of each INSERT tuple, in tuple order.
	InsertNodes []rule.DataNode
	// FullRoute is set when a sharded table had no usable sharding value.
	FullRoute bool
	// MasterSlave is set when a unit was resolved through a master-slave rule.
	MasterSlave bool
}

func (r *RouteContext) IsSingleRouting() bool {
	return len(r.Units) == 1
}

// DataSourceNames returns the distinct physical data sources, in unit order.
func (r *RouteContext) DataSourceNames() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, u := range r.Units {
		if _, ok := seen[u.DataSourceName]; !ok {
			seen[u.DataSourceName] = struct{}{}
			out = append(out, u.DataSourceName)
		}
	}
	return out
}

// ActualTablesOf returns the distinct actual tables logic was routed to.
func (r *RouteContext) ActualTablesOf(logic string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, u := range r.Units {
		if t, ok := u.ActualTable(logic); ok {
			if _, dup := seen[t]; !dup {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}
