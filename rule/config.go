package rule

import (
	"fmt"
	"strings"

	"gorm/shardroute/keygen"
	"gorm/shardroute/strategy"
)

// TableRuleConfig 数据分片规则
type TableRuleConfig struct {
	LogicTable string `json:"logic-table" yaml:"logic-table"`
	// ActualDataNodes is an inline expression such as ds_${0..1}.t_order_${0..1}; empty means the
	// logic table on every data source.
	ActualDataNodes  string           `json:"actual-data-nodes" yaml:"actual-data-nodes"`
	DatabaseStrategy *strategy.Config `json:"database-strategy" yaml:"database-strategy"`
	TableStrategy    *strategy.Config `json:"table-strategy" yaml:"table-strategy"`
	KeyGenerator     *keygen.Config   `json:"key-generator" yaml:"key-generator"`
}

type MasterSlaveRuleConfig struct {
	Name        string   `json:"name" yaml:"name"`
	Master      string   `json:"master" yaml:"master"`
	Slaves      []string `json:"slaves" yaml:"slaves"`
	LoadBalance string   `json:"load-balance" yaml:"load-balance"`
}

type Config struct {
	// DataSources lists the logical data source names tables may live on.
	DataSources []string          `json:"data-sources" yaml:"data-sources"`
	Tables      []TableRuleConfig `json:"tables" yaml:"tables"`
	// BindingTables holds comma separated groups, e.g. "t_order,t_order_item".
	BindingTables           []string                `json:"binding-tables" yaml:"binding-tables"`
	DefaultDataSource       string                  `json:"default-data-source" yaml:"default-data-source"`
	DefaultDatabaseStrategy *strategy.Config        `json:"default-database-strategy" yaml:"default-database-strategy"`
	DefaultTableStrategy    *strategy.Config        `json:"default-table-strategy" yaml:"default-table-strategy"`
	MasterSlaveRules        []MasterSlaveRuleConfig `json:"master-slave-rules" yaml:"master-slave-rules"`
}

// NewShardingRule validates cfg and builds the rule. Every configuration problem surfaces here,
// before any statement runs.
func NewShardingRule(cfg Config, algorithms *strategy.Registry, generators *keygen.Registry) (*ShardingRule, error) {
	if algorithms == nil {
		algorithms = strategy.NewRegistry()
	}
	if generators == nil {
		generators = keygen.NewRegistry()
	}
	r := &ShardingRule{
		TableRules:        map[string]*TableRule{},
		DefaultDataSource: cfg.DefaultDataSource,
	}
	defaultDB, err := algorithms.NewStrategy(cfg.DefaultDatabaseStrategy)
	if err != nil {
		return nil, fmt.Errorf("default database strategy: %w", err)
	}
	defaultTB, err := algorithms.NewStrategy(cfg.DefaultTableStrategy)
	if err != nil {
		return nil, fmt.Errorf("default table strategy: %w", err)
	}
	seenDS := map[string]struct{}{}
	addDS := func(ds string) {
		if _, ok := seenDS[ds]; !ok {
			seenDS[ds] = struct{}{}
			r.dataSources = append(r.dataSources, ds)
		}
	}
	for _, ds := range cfg.DataSources {
		addDS(ds)
	}
	for _, tc := range cfg.Tables {
		t, err := buildTableRule(tc, cfg.DataSources, algorithms, generators, defaultDB, defaultTB)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(t.LogicTable)
		if _, dup := r.TableRules[key]; dup {
			return nil, fmt.Errorf("%w: table %s configured twice", ErrInvalidRule, t.LogicTable)
		}
		r.TableRules[key] = t
		for _, ds := range t.DataSourceNames() {
			addDS(ds)
		}
	}
	if r.DefaultDataSource != "" {
		addDS(r.DefaultDataSource)
	}
	for _, group := range cfg.BindingTables {
		b, err := buildBindingRule(r, group)
		if err != nil {
			return nil, err
		}
		r.BindingTableRules = append(r.BindingTableRules, b)
	}
	for _, mc := range cfg.MasterSlaveRules {
		if mc.Name == "" || mc.Master == "" {
			return nil, fmt.Errorf("%w: master-slave rule needs a name and a master", ErrInvalidRule)
		}
		r.MasterSlaveRules = append(r.MasterSlaveRules, &MasterSlaveRule{
			Name:        mc.Name,
			Master:      mc.Master,
			Slaves:      append([]string(nil), mc.Slaves...),
			LoadBalance: mc.LoadBalance,
		})
	}
	return r, nil
}

func buildTableRule(tc TableRuleConfig, dataSources []string, algorithms *strategy.Registry, generators *keygen.Registry,
	defaultDB, defaultTB strategy.Strategy) (*TableRule, error) {
	if tc.LogicTable == "" {
		return nil, fmt.Errorf("%w: table rule without logic-table", ErrInvalidRule)
	}
	var nodes []DataNode
	if tc.ActualDataNodes == "" {
		if len(dataSources) == 0 {
			return nil, fmt.Errorf("%w: table %s has no actual-data-nodes and no data sources", ErrInvalidRule, tc.LogicTable)
		}
		for _, ds := range dataSources {
			nodes = append(nodes, DataNode{DataSource: ds, Table: tc.LogicTable})
		}
	} else {
		expanded, err := ExpandInline(tc.ActualDataNodes)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", tc.LogicTable, err)
		}
		for _, each := range expanded {
			n, err := ParseDataNode(each)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", tc.LogicTable, err)
			}
			nodes = append(nodes, n)
		}
	}
	dbStrategy, tbStrategy := defaultDB, defaultTB
	if tc.DatabaseStrategy != nil {
		s, err := algorithms.NewStrategy(tc.DatabaseStrategy)
		if err != nil {
			return nil, fmt.Errorf("table %s database strategy: %w", tc.LogicTable, err)
		}
		dbStrategy = s
	}
	if tc.TableStrategy != nil {
		s, err := algorithms.NewStrategy(tc.TableStrategy)
		if err != nil {
			return nil, fmt.Errorf("table %s table strategy: %w", tc.LogicTable, err)
		}
		tbStrategy = s
	}
	var gen *KeyGenerator
	if tc.KeyGenerator != nil {
		if tc.KeyGenerator.Column == "" {
			return nil, fmt.Errorf("%w: table %s key generator without column", ErrInvalidRule, tc.LogicTable)
		}
		g, err := generators.New(*tc.KeyGenerator)
		if err != nil {
			return nil, fmt.Errorf("table %s key generator: %w", tc.LogicTable, err)
		}
		gen = &KeyGenerator{Column: tc.KeyGenerator.Column, Generator: g}
	}
	return newTableRule(tc.LogicTable, nodes, dbStrategy, tbStrategy, gen)
}

func buildBindingRule(r *ShardingRule, group string) (*BindingTableRule, error) {
	b := &BindingTableRule{}
	for _, name := range strings.Split(group, ",") {
		name = strings.TrimSpace(name)
		t, ok := r.FindTableRule(name)
		if !ok {
			return nil, fmt.Errorf("%w: binding table %s has no table rule", ErrInvalidRule, name)
		}
		b.TableRules = append(b.TableRules, t)
	}
	if len(b.TableRules) < 2 {
		return nil, fmt.Errorf("%w: binding group %q needs two tables", ErrInvalidRule, group)
	}
	first := b.TableRules[0]
	for _, other := range b.TableRules[1:] {
		if len(other.DataSourceNames()) != len(first.DataSourceNames()) {
			return nil, fmt.Errorf("%w: %s and %s span different data sources", ErrInvalidRule, first.LogicTable, other.LogicTable)
		}
		for _, ds := range first.DataSourceNames() {
			if len(other.ActualTables(ds)) != len(first.ActualTables(ds)) {
				return nil, fmt.Errorf("%w: %s and %s differ in %s", ErrInvalidRule, first.LogicTable, other.LogicTable, ds)
			}
		}
	}
	return b, nil
}
