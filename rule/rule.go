// Package rule holds the sharding configuration after validation: table rules with their
// actual data nodes, binding groups and master-slave groups. Rules are immutable once built and
// shared by all statements without locking.
package rule

import (
	"errors"
	"fmt"
	"strings"

	"gorm/shardroute/keygen"
	"gorm/shardroute/strategy"
)

var (
	ErrInvalidExpression = errors.New("shardroute: invalid inline expression")
	ErrInvalidRule       = errors.New("shardroute: invalid sharding rule")
)

// DataNode is one physical (data source, table) pair.
type DataNode struct {
	DataSource string
	Table      string
}

func ParseDataNode(s string) (DataNode, error) {
	ds, table, ok := strings.Cut(s, ".")
	if !ok || ds == "" || table == "" || strings.Contains(table, ".") {
		return DataNode{}, fmt.Errorf("%w: data node %q is not ds.table", ErrInvalidExpression, s)
	}
	return DataNode{DataSource: ds, Table: table}, nil
}

func (n DataNode) String() string {
	return n.DataSource + "." + n.Table
}

// KeyGenerator binds a generator to the column it fills.
type KeyGenerator struct {
	Column    string
	Generator keygen.Generator
}

type TableRule struct {
	LogicTable       string
	ActualDataNodes  []DataNode
	DatabaseStrategy strategy.Strategy
	TableStrategy    strategy.Strategy
	KeyGenerator     *KeyGenerator

	dataSources []string
	tables      map[string][]string
}

func newTableRule(logic string, nodes []DataNode, dbStrategy, tbStrategy strategy.Strategy, gen *KeyGenerator) (*TableRule, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: table %s has no data nodes", ErrInvalidRule, logic)
	}
	r := &TableRule{
		LogicTable:       logic,
		ActualDataNodes:  nodes,
		DatabaseStrategy: dbStrategy,
		TableStrategy:    tbStrategy,
		KeyGenerator:     gen,
		tables:           map[string][]string{},
	}
	seen := map[DataNode]struct{}{}
	for _, n := range nodes {
		if _, dup := seen[n]; dup {
			return nil, fmt.Errorf("%w: table %s declares %s twice", ErrInvalidRule, logic, n)
		}
		seen[n] = struct{}{}
		if _, ok := r.tables[n.DataSource]; !ok {
			r.dataSources = append(r.dataSources, n.DataSource)
		}
		r.tables[n.DataSource] = append(r.tables[n.DataSource], n.Table)
	}
	return r, nil
}

// DataSourceNames returns the data sources holding this table, in declaration order.
func (r *TableRule) DataSourceNames() []string {
	return r.dataSources
}

// ActualTables returns the actual tables in ds, in declaration order.
func (r *TableRule) ActualTables(ds string) []string {
	return r.tables[ds]
}

func (r *TableRule) IsActualNode(ds, table string) bool {
	for _, t := range r.tables[ds] {
		if t == table {
			return true
		}
	}
	return false
}

// ShardingColumns returns the lowercase columns either strategy shards on.
func (r *TableRule) ShardingColumns() []string {
	var out []string
	for _, s := range []strategy.Strategy{r.DatabaseStrategy, r.TableStrategy} {
		for _, c := range s.Columns() {
			out = append(out, strings.ToLower(c))
		}
	}
	return out
}

// BindingTableRule groups logic tables that shard identically.
type BindingTableRule struct {
	TableRules []*TableRule
}

func (b *BindingTableRule) HasLogicTable(logic string) bool {
	for _, r := range b.TableRules {
		if strings.EqualFold(r.LogicTable, logic) {
			return true
		}
	}
	return false
}

// BindingActualTable maps the actual table chosen for one member of the group to the table at
// the same position for another member.
func (b *BindingTableRule) BindingActualTable(ds, logic, otherLogic, otherActual string) (string, error) {
	var from, to *TableRule
	for _, r := range b.TableRules {
		if strings.EqualFold(r.LogicTable, otherLogic) {
			from = r
		}
		if strings.EqualFold(r.LogicTable, logic) {
			to = r
		}
	}
	if from == nil || to == nil {
		return "", fmt.Errorf("%w: %s and %s are not bound", ErrInvalidRule, logic, otherLogic)
	}
	for i, t := range from.ActualTables(ds) {
		if t == otherActual {
			tables := to.ActualTables(ds)
			if i < len(tables) {
				return tables[i], nil
			}
		}
	}
	return "", fmt.Errorf("%w: no binding table of %s for %s.%s", ErrInvalidRule, logic, ds, otherActual)
}

// MasterSlaveRule names a logical data source backed by one master and its replicas.
type MasterSlaveRule struct {
	Name        string
	Master      string
	Slaves      []string
	LoadBalance string
}

type ShardingRule struct {
	TableRules        map[string]*TableRule
	BindingTableRules []*BindingTableRule
	MasterSlaveRules  []*MasterSlaveRule
	DefaultDataSource string

	dataSources []string
}

func (r *ShardingRule) FindTableRule(logic string) (*TableRule, bool) {
	t, ok := r.TableRules[strings.ToLower(logic)]
	return t, ok
}

func (r *ShardingRule) FindBindingTableRule(logic string) (*BindingTableRule, bool) {
	for _, b := range r.BindingTableRules {
		if b.HasLogicTable(logic) {
			return b, true
		}
	}
	return nil, false
}

// IsAllBindingTables reports whether every name belongs to one binding group.
func (r *ShardingRule) IsAllBindingTables(logics []string) bool {
	if len(logics) == 0 {
		return false
	}
	b, ok := r.FindBindingTableRule(logics[0])
	if !ok {
		return false
	}
	for _, l := range logics[1:] {
		if !b.HasLogicTable(l) {
			return false
		}
	}
	return true
}

// FindMasterSlaveRule returns the rule for a logical data source name.
func (r *ShardingRule) FindMasterSlaveRule(name string) (*MasterSlaveRule, bool) {
	for _, m := range r.MasterSlaveRules {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return nil, false
}

// DataSourceNames returns the logical data source names data nodes refer to.
func (r *ShardingRule) DataSourceNames() []string {
	return r.dataSources
}

// PhysicalDataSourceNames expands master-slave groups into their members.
func (r *ShardingRule) PhysicalDataSourceNames() []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(n string) {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	for _, ds := range r.dataSources {
		if ms, ok := r.FindMasterSlaveRule(ds); ok {
			add(ms.Master)
			for _, s := range ms.Slaves {
				add(s)
			}
			continue
		}
		add(ds)
	}
	return out
}
