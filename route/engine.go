// Package route decides which (data source, actual table) units a statement runs on.
package route

import (
	"errors"
	"fmt"
	"strings"

	"gorm/shardroute/keygen"
	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
	"gorm/shardroute/strategy"
)

var (
	ErrRouting              = errors.New("shardroute: routing failed")
	ErrNoDataSource         = errors.New("shardroute: no data source for unsharded tables")
	ErrMissingShardingValue = errors.New("shardroute: missing sharding value")
	ErrFullRouteDisallowed  = errors.New("shardroute: full route disallowed")
)

type Option func(*Engine)

// WithFullRoute controls whether a sharded table without usable sharding values may be
// broadcast to all its nodes. It is allowed by default.
func WithFullRoute(allow bool) Option {
	return func(e *Engine) {
		e.allowFullRoute = allow
	}
}

// WithLoadBalancer registers a load balancer name usable by master-slave rules.
func WithLoadBalancer(name string, lb LoadBalancer) Option {
	return func(e *Engine) {
		e.balancers[strings.ToUpper(name)] = lb
	}
}

// Engine is safe for concurrent use; per-connection state lives in Session.
type Engine struct {
	rule           *rule.ShardingRule
	allowFullRoute bool
	balancers      map[string]LoadBalancer
	masterSlave    *masterSlaveRouter
}

func NewEngine(r *rule.ShardingRule, opts ...Option) (*Engine, error) {
	e := &Engine{
		rule:           r,
		allowFullRoute: true,
		balancers: map[string]LoadBalancer{
			Random:     RandomPolicy{},
			RoundRobin: &RoundRobinPolicy{},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	ms, err := newMasterSlaveRouter(r, e.balancers)
	if err != nil {
		return nil, err
	}
	e.masterSlave = ms
	return e, nil
}

// Route computes the routing units of ctx. session may be nil for callers without one.
func (e *Engine) Route(session *Session, ctx *statement.Context, params []any) (*RouteContext, error) {
	if session == nil {
		session = NewSession()
	}
	rc := &RouteContext{Statement: ctx, Params: params}
	var sharded, plain []string
	for _, t := range ctx.Tables {
		if _, ok := e.rule.FindTableRule(t); ok {
			sharded = append(sharded, t)
		} else {
			plain = append(plain, t)
		}
	}
	var err error
	switch {
	case len(sharded) == 0:
		err = e.routeDefault(rc, plain)
	case ctx.Kind == statement.Insert:
		err = e.routeInsert(session, rc, sharded[0])
	case ctx.Kind == statement.Other:
		err = e.routeBroadcast(rc, sharded)
	case len(sharded) == 1 || e.rule.IsAllBindingTables(sharded):
		err = e.routeBinding(session, rc, sharded)
	default:
		err = e.routeCartesian(session, rc, sharded)
	}
	if err != nil {
		return nil, err
	}
	if len(rc.Units) == 0 {
		return nil, fmt.Errorf("%w: no routing unit for %s", ErrRouting, strings.Join(ctx.Tables, ","))
	}
	if rc.FullRoute && !e.allowFullRoute {
		return nil, fmt.Errorf("%w: no sharding value for %s", ErrFullRouteDisallowed, strings.Join(sharded, ","))
	}
	for _, t := range plain {
		for i := range rc.Units {
			if _, ok := rc.Units[i].ActualTable(t); !ok {
				rc.Units[i].TableUnits = append(rc.Units[i].TableUnits, TableUnit{Logic: t, Actual: t})
			}
		}
	}
	e.masterSlave.decorate(session, ctx, rc)
	return rc, nil
}

func (e *Engine) routeDefault(rc *RouteContext, tables []string) error {
	if e.rule.DefaultDataSource == "" {
		return fmt.Errorf("%w: %s", ErrNoDataSource, strings.Join(tables, ","))
	}
	unit := RoutingUnit{DataSourceName: e.rule.DefaultDataSource, LogicDataSourceName: e.rule.DefaultDataSource}
	for _, t := range tables {
		unit.TableUnits = append(unit.TableUnits, TableUnit{Logic: t, Actual: t})
	}
	rc.Units = []RoutingUnit{unit}
	return nil
}

// routeBroadcast sends DDL to every node of the referenced tables.
func (e *Engine) routeBroadcast(rc *RouteContext, tables []string) error {
	var routes []tableRoute
	for _, t := range tables {
		tr, _ := e.rule.FindTableRule(t)
		routes = append(routes, fullTableRoute(tr))
	}
	rc.Units = cartesianUnits(routes)
	return nil
}

// routeBinding routes the first table and maps the others through their binding rule, so the
// unit count never exceeds a single-table route.
func (e *Engine) routeBinding(session *Session, rc *RouteContext, tables []string) error {
	primary, _ := e.rule.FindTableRule(tables[0])
	route, full, err := e.routeTable(session, rc, primary, tables)
	if err != nil {
		return err
	}
	rc.FullRoute = full
	var binding *rule.BindingTableRule
	if len(tables) > 1 {
		binding, _ = e.rule.FindBindingTableRule(primary.LogicTable)
	}
	for _, ds := range route.dataSources {
		for _, actual := range route.tables[ds] {
			unit := RoutingUnit{DataSourceName: ds, LogicDataSourceName: ds,
				TableUnits: []TableUnit{{Logic: tables[0], Actual: actual}}}
			for _, other := range tables[1:] {
				bound, err := binding.BindingActualTable(ds, other, primary.LogicTable, actual)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrRouting, err)
				}
				unit.TableUnits = append(unit.TableUnits, TableUnit{Logic: other, Actual: bound})
			}
			rc.Units = append(rc.Units, unit)
		}
	}
	return nil
}

// routeCartesian combines independent per-table routes within each common data source.
func (e *Engine) routeCartesian(session *Session, rc *RouteContext, tables []string) error {
	var routes []tableRoute
	for _, t := range tables {
		tr, _ := e.rule.FindTableRule(t)
		route, full, err := e.routeTable(session, rc, tr, []string{t})
		if err != nil {
			return err
		}
		route.logic = t
		rc.FullRoute = rc.FullRoute || full
		routes = append(routes, route)
	}
	rc.Units = cartesianUnits(routes)
	if len(rc.Units) == 0 {
		return fmt.Errorf("%w: %s share no data source", ErrRouting, strings.Join(tables, ","))
	}
	return nil
}

type tableRoute struct {
	logic       string
	dataSources []string
	tables      map[string][]string
}

func fullTableRoute(tr *rule.TableRule) tableRoute {
	r := tableRoute{logic: tr.LogicTable, tables: map[string][]string{}}
	for _, ds := range tr.DataSourceNames() {
		r.dataSources = append(r.dataSources, ds)
		r.tables[ds] = tr.ActualTables(ds)
	}
	return r
}

func cartesianUnits(routes []tableRoute) []RoutingUnit {
	var units []RoutingUnit
	for _, ds := range routes[0].dataSources {
		combos := [][]TableUnit{nil}
		for _, r := range routes {
			actuals := r.tables[ds]
			if len(actuals) == 0 {
				combos = nil
				break
			}
			next := make([][]TableUnit, 0, len(combos)*len(actuals))
			for _, c := range combos {
				for _, a := range actuals {
					combo := append(append([]TableUnit(nil), c...), TableUnit{Logic: r.logic, Actual: a})
					next = append(next, combo)
				}
			}
			combos = next
		}
		for _, c := range combos {
			units = append(units, RoutingUnit{DataSourceName: ds, LogicDataSourceName: ds, TableUnits: c})
		}
	}
	return units
}

// routeTable runs the database strategy, then the table strategy on every chosen data source.
// owners are the logic tables whose predicates may supply sharding values.
func (e *Engine) routeTable(session *Session, rc *RouteContext, tr *rule.TableRule, owners []string) (tableRoute, bool, error) {
	route := tableRoute{logic: tr.LogicTable, tables: map[string][]string{}}
	dbValues, dbFull, err := e.strategyValues(session, rc, tr, tr.DatabaseStrategy, owners, true)
	if err != nil {
		return route, false, err
	}
	dataSources, err := tr.DatabaseStrategy.DoSharding(tr.DataSourceNames(), dbValues)
	if err != nil {
		return route, false, fmt.Errorf("%w: %s: %v", ErrRouting, tr.LogicTable, err)
	}
	tbValues, tbFull, err := e.strategyValues(session, rc, tr, tr.TableStrategy, owners, false)
	if err != nil {
		return route, false, err
	}
	for _, ds := range dataSources {
		if len(tr.ActualTables(ds)) == 0 {
			return route, false, fmt.Errorf("%w: %s resolved to undeclared data source %s", ErrRouting, tr.LogicTable, ds)
		}
		tables, err := tr.TableStrategy.DoSharding(tr.ActualTables(ds), tbValues)
		if err != nil {
			return route, false, fmt.Errorf("%w: %s: %v", ErrRouting, tr.LogicTable, err)
		}
		for _, t := range tables {
			if !tr.IsActualNode(ds, t) {
				return route, false, fmt.Errorf("%w: %s resolved to undeclared node %s.%s", ErrRouting, tr.LogicTable, ds, t)
			}
		}
		if len(tables) > 0 {
			route.dataSources = append(route.dataSources, ds)
			route.tables[ds] = tables
		}
	}
	if len(route.dataSources) == 0 {
		return route, false, fmt.Errorf("%w: %s matches no data node", ErrRouting, tr.LogicTable)
	}
	return route, dbFull || tbFull, nil
}

// strategyValues returns the values for s and whether s had to fall back to all targets.
func (e *Engine) strategyValues(session *Session, rc *RouteContext, tr *rule.TableRule, s strategy.Strategy, owners []string, database bool) ([]strategy.Value, bool, error) {
	if strategy.IsHint(s) {
		hints := session.TableHints(tr.LogicTable)
		if database {
			hints = session.DatabaseHints(tr.LogicTable)
		}
		if len(hints) == 0 {
			return nil, true, nil
		}
		return []strategy.Value{strategy.ListValue{Table: tr.LogicTable, Values: hints}}, false, nil
	}
	columns := s.Columns()
	if len(columns) == 0 {
		return nil, false, nil
	}
	values, err := predicateValues(rc.Statement, rc.Params, tr.LogicTable, owners, columns)
	if err != nil {
		return nil, false, err
	}
	return values, len(values) == 0, nil
}

// routeInsert routes every tuple to exactly one node, generating keys first when the key column
// is missing.
func (e *Engine) routeInsert(session *Session, rc *RouteContext, logic string) error {
	tr, _ := e.rule.FindTableRule(logic)
	seg := rc.Statement.Insert
	if seg == nil || len(seg.Tuples) == 0 {
		return fmt.Errorf("%w: INSERT into %s without VALUES", ErrRouting, logic)
	}
	if err := seg.Validate(); err != nil {
		return err
	}
	if tr.KeyGenerator != nil && seg.ColumnIndex(tr.KeyGenerator.Column) < 0 {
		key := &keygen.GeneratedKey{Column: tr.KeyGenerator.Column, Generated: true}
		for range seg.Tuples {
			v, err := tr.KeyGenerator.Generator.Generate()
			if err != nil {
				return fmt.Errorf("generate %s.%s: %w", logic, key.Column, err)
			}
			key.Values = append(key.Values, v)
		}
		rc.GeneratedKey = key
	}
	used := map[rule.DataNode]struct{}{}
	for i, tuple := range seg.Tuples {
		node, err := e.routeTuple(session, rc, tr, i, tuple)
		if err != nil {
			return err
		}
		rc.InsertNodes = append(rc.InsertNodes, node)
		used[node] = struct{}{}
	}
	for _, n := range tr.ActualDataNodes {
		if _, ok := used[n]; ok {
			rc.Units = append(rc.Units, RoutingUnit{DataSourceName: n.DataSource, LogicDataSourceName: n.DataSource,
				TableUnits: []TableUnit{{Logic: logic, Actual: n.Table}}})
		}
	}
	return nil
}

func (e *Engine) routeTuple(session *Session, rc *RouteContext, tr *rule.TableRule, index int, tuple statement.InsertTuple) (rule.DataNode, error) {
	dbValues, err := e.tupleValues(session, rc, tr, tr.DatabaseStrategy, index, tuple, true)
	if err != nil {
		return rule.DataNode{}, err
	}
	dataSources, err := tr.DatabaseStrategy.DoSharding(tr.DataSourceNames(), dbValues)
	if err != nil {
		return rule.DataNode{}, fmt.Errorf("%w: %s row %d: %v", ErrRouting, tr.LogicTable, index+1, err)
	}
	if len(dataSources) != 1 {
		return rule.DataNode{}, fmt.Errorf("%w: %s row %d routes to %d data sources", ErrRouting, tr.LogicTable, index+1, len(dataSources))
	}
	ds := dataSources[0]
	tbValues, err := e.tupleValues(session, rc, tr, tr.TableStrategy, index, tuple, false)
	if err != nil {
		return rule.DataNode{}, err
	}
	tables, err := tr.TableStrategy.DoSharding(tr.ActualTables(ds), tbValues)
	if err != nil {
		return rule.DataNode{}, fmt.Errorf("%w: %s row %d: %v", ErrRouting, tr.LogicTable, index+1, err)
	}
	if len(tables) != 1 {
		return rule.DataNode{}, fmt.Errorf("%w: %s row %d routes to %d tables", ErrRouting, tr.LogicTable, index+1, len(tables))
	}
	if !tr.IsActualNode(ds, tables[0]) {
		return rule.DataNode{}, fmt.Errorf("%w: %s resolved to undeclared node %s.%s", ErrRouting, tr.LogicTable, ds, tables[0])
	}
	return rule.DataNode{DataSource: ds, Table: tables[0]}, nil
}

func (e *Engine) tupleValues(session *Session, rc *RouteContext, tr *rule.TableRule, s strategy.Strategy, index int, tuple statement.InsertTuple, database bool) ([]strategy.Value, error) {
	if strategy.IsHint(s) {
		values, _, err := e.strategyValues(session, rc, tr, s, nil, database)
		return values, err
	}
	seg := rc.Statement.Insert
	var out []strategy.Value
	for _, column := range s.Columns() {
		var value any
		if i := seg.ColumnIndex(column); i >= 0 {
			raw, err := tuple.Values[i].Resolve(rc.Params)
			if err != nil {
				return nil, err
			}
			if expr, ok := raw.(statement.Raw); ok {
				return nil, fmt.Errorf("%w: %s.%s is the expression %s", ErrRouting, tr.LogicTable, column, expr)
			}
			value = raw
		} else if rc.GeneratedKey != nil && strings.EqualFold(rc.GeneratedKey.Column, column) {
			value = rc.GeneratedKey.Values[index]
		} else {
			return nil, fmt.Errorf("%w: %s.%s in row %d", ErrMissingShardingValue, tr.LogicTable, column, index+1)
		}
		out = append(out, strategy.ListValue{Table: tr.LogicTable, Column: column, Values: []any{value}})
	}
	return out, nil
}
