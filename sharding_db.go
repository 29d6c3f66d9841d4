// Package shardroute routes SQL written against logic tables to the physical databases and
// tables of a sharding rule, runs it there and merges the results.
package shardroute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm/logger"
	"gorm/shardroute/execute"
	"gorm/shardroute/merge"
	"gorm/shardroute/metrics"
	"gorm/shardroute/parser"
	"gorm/shardroute/rewrite"
	"gorm/shardroute/route"
	"gorm/shardroute/rule"
)

var ErrStatementKind = errors.New("shardroute: wrong statement kind")

// Props are the runtime properties of a ShardingDB.
type Props struct {
	SQLShow        bool
	AllowFullRoute bool
	PoolSize       int
	ConnectionMode execute.ConnectionMode
	FailurePolicy  execute.FailurePolicy
	Timeout        time.Duration
}

type Option func(*options)

type options struct {
	props     Props
	logger    logger.Interface
	balancers map[string]route.LoadBalancer
}

func WithSQLShow(show bool) Option {
	return func(o *options) { o.props.SQLShow = show }
}

// WithFullRoute controls whether statements without usable sharding values may reach every node.
func WithFullRoute(allow bool) Option {
	return func(o *options) { o.props.AllowFullRoute = allow }
}

func WithPoolSize(n int) Option {
	return func(o *options) { o.props.PoolSize = n }
}

func WithConnectionMode(mode execute.ConnectionMode) Option {
	return func(o *options) { o.props.ConnectionMode = mode }
}

func WithFailurePolicy(policy execute.FailurePolicy) Option {
	return func(o *options) { o.props.FailurePolicy = policy }
}

// WithTimeout bounds every statement, including reading its results.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.props.Timeout = d }
}

func WithLogger(l logger.Interface) Option {
	return func(o *options) { o.logger = l }
}

// WithLoadBalancer registers a slave load balancer under name for master-slave rules.
func WithLoadBalancer(name string, lb route.LoadBalancer) Option {
	return func(o *options) { o.balancers[name] = lb }
}

// WithProps replaces every property at once.
func WithProps(p Props) Option {
	return func(o *options) { o.props = p }
}

// ShardingDB is the entry point of the sharding pipeline: parse, route, rewrite, execute, merge.
type ShardingDB struct {
	rule     *rule.ShardingRule
	registry map[string]execute.DataSource
	router   *route.Engine
	rewriter *rewrite.Engine
	executor *execute.Executor
	merger   *merge.Engine
	logger   sqlShowLogger
	props    Props
}

// ExecResult is the outcome of a write statement.
type ExecResult struct {
	RowsAffected  int64
	LastInsertID  int64
	GeneratedKeys []any
	// DataSources are the physical data sources written to.
	DataSources []string
}

// New builds a ShardingDB over dataSources, which must hold every physical data source r names.
func New(r *rule.ShardingRule, dataSources map[string]execute.DataSource, opts ...Option) (*ShardingDB, error) {
	o := &options{
		props:     Props{AllowFullRoute: true},
		logger:    logger.Default,
		balancers: map[string]route.LoadBalancer{},
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, name := range r.PhysicalDataSourceNames() {
		if _, ok := dataSources[name]; !ok {
			return nil, fmt.Errorf("%w: %s", execute.ErrUnknownDataSource, name)
		}
	}
	routeOpts := []route.Option{route.WithFullRoute(o.props.AllowFullRoute)}
	for name, lb := range o.balancers {
		routeOpts = append(routeOpts, route.WithLoadBalancer(name, lb))
	}
	router, err := route.NewEngine(r, routeOpts...)
	if err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = logger.Discard
	}
	if o.props.SQLShow && o.logger == logger.Default {
		o.logger = logger.Default.LogMode(logger.Info)
	}
	log := NewSQLShowLogger(o.logger, o.props.SQLShow).(sqlShowLogger)
	executor, err := execute.New(dataSources, execute.Config{
		PoolSize: o.props.PoolSize,
		Mode:     o.props.ConnectionMode,
		Policy:   o.props.FailurePolicy,
		Timeout:  o.props.Timeout,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	return &ShardingDB{
		rule:     r,
		registry: dataSources,
		router:   router,
		rewriter: rewrite.NewEngine(),
		executor: executor,
		merger:   merge.NewEngine(),
		logger:   log,
		props:    o.props,
	}, nil
}

func (db *ShardingDB) Rule() *rule.ShardingRule {
	return db.rule
}

func (db *ShardingDB) Props() Props {
	return db.props
}

// Route parses, routes and rewrites sql without running it.
func (db *ShardingDB) Route(session *route.Session, sql string, args ...any) (*route.RouteContext, []rewrite.SQLUnit, error) {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return nil, nil, err
	}
	rc, err := db.router.Route(session, stmt, args)
	metrics.RouteCounter.WithLabelValues(stmt.Kind.String(), metrics.RetLabel(err)).Inc()
	if err != nil {
		return nil, nil, err
	}
	metrics.RouteUnits.Observe(float64(len(rc.Units)))
	if rc.FullRoute {
		metrics.FullRouteCounter.Inc()
	}
	units, err := db.rewriter.Rewrite(rc)
	if err != nil {
		return nil, nil, err
	}
	return rc, units, nil
}

// Query runs a SELECT and returns one cursor over the merged results of every unit.
// The caller must close the cursor.
func (db *ShardingDB) Query(ctx context.Context, session *route.Session, sql string, args ...any) (*merge.Cursor, error) {
	rc, units, err := db.Route(session, sql, args...)
	if err != nil {
		return nil, err
	}
	if !rc.Statement.IsQuery() {
		return nil, fmt.Errorf("%w: %s is not a query", ErrStatementKind, rc.Statement.Kind)
	}
	db.logger.logicSQL(ctx, rc, units)
	// a failed replica must not be hidden behind a partial result
	policy := db.props.FailurePolicy
	if rc.MasterSlave {
		policy = execute.FailFast
	}
	results, err := db.executor.QueryWithPolicy(ctx, units, policy)
	if err != nil {
		return nil, err
	}
	if err := results.Err(); err != nil {
		db.logger.Warn(ctx, "partial result of %d units: %v", len(results.Available()), err)
	}
	cursor, err := db.merger.Merge(rc, results.Results)
	if err != nil {
		return nil, multierr.Append(err, results.Close())
	}
	return cursor, nil
}

// Exec runs a write or DDL statement on every routed unit.
func (db *ShardingDB) Exec(ctx context.Context, session *route.Session, sql string, args ...any) (*ExecResult, error) {
	rc, units, err := db.Route(session, sql, args...)
	if err != nil {
		return nil, err
	}
	if rc.Statement.IsQuery() {
		return nil, fmt.Errorf("%w: use Query for SELECT", ErrStatementKind)
	}
	db.logger.logicSQL(ctx, rc, units)
	results, err := db.executor.Exec(ctx, units)
	if err != nil {
		return nil, err
	}
	if session != nil && rc.MasterSlave && rc.Statement.IsWrite() {
		session.MarkWritten()
	}
	merged := db.merger.MergeUpdate(results, rc.GeneratedKey)
	return &ExecResult{
		RowsAffected:  merged.RowsAffected,
		LastInsertID:  merged.LastInsertID,
		GeneratedKeys: merged.GeneratedKeys,
		DataSources:   execute.DataSourceNames(units),
	}, nil
}

// Close stops the worker pool. Data sources are owned by the caller.
func (db *ShardingDB) Close() error {
	return db.executor.Close()
}
