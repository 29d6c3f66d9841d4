// Package execute dispatches rewritten SQL units to their data sources on a bounded worker pool.
package execute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"gorm.io/gorm/logger"
	"gorm/shardroute/metrics"
	"gorm/shardroute/rewrite"
	"gorm/shardroute/route"
)

var (
	ErrUnknownDataSource = errors.New("shardroute: unknown data source")
	ErrPanic             = errors.New("shardroute: panic while executing")
)

// DataSource hands out dedicated connections; *sql.DB satisfies it.
type DataSource interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

type ConnectionMode int

const (
	// ConnectionStrict opens one connection per unit and streams every result.
	ConnectionStrict ConnectionMode = iota
	// MemoryStrict opens one connection per data source and runs its units one after another;
	// results of data sources with several units are loaded into memory.
	MemoryStrict
)

type FailurePolicy int

const (
	// FailFast cancels outstanding units on the first error.
	FailFast FailurePolicy = iota
	// BestEffort records per-unit errors of queries and returns the other results.
	BestEffort
)

const defaultPoolSize = 64

type Config struct {
	PoolSize int
	Mode     ConnectionMode
	Policy   FailurePolicy
	// Timeout bounds a statement from dispatch until its results are closed; 0 disables it.
	Timeout time.Duration
	Logger  logger.Interface
}

// Executor is shared by all statements of one instance.
type Executor struct {
	dataSources map[string]DataSource
	pool        *ants.Pool
	cfg         Config
	log         logger.Interface
}

func New(dataSources map[string]DataSource, cfg Config) (*Executor, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard
	}
	pool, err := ants.NewPool(cfg.PoolSize, ants.WithPanicHandler(func(v any) {
		metrics.PanicCounter.WithLabelValues("pool").Inc()
		log.Error(context.Background(), "sql unit panic: %v", v)
	}))
	if err != nil {
		return nil, err
	}
	return &Executor{dataSources: dataSources, pool: pool, cfg: cfg, log: log}, nil
}

// Close releases the worker pool.
func (e *Executor) Close() error {
	return e.pool.ReleaseTimeout(3 * time.Second)
}

// QueryResults are the per-unit results of one query, indexed like its units.
type QueryResults struct {
	Units []rewrite.SQLUnit
	// Results holds nil where a unit failed under BestEffort.
	Results []QueryResult
	Errors  []error
}

// Available returns the results of the units that succeeded, in unit order.
func (r *QueryResults) Available() []QueryResult {
	out := make([]QueryResult, 0, len(r.Results))
	for _, res := range r.Results {
		if res != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err combines the per-unit errors recorded under BestEffort.
func (r *QueryResults) Err() error {
	return multierr.Combine(r.Errors...)
}

// DataSourceNames returns the physical data sources the statement touched.
func (r *QueryResults) DataSourceNames() []string {
	return dataSourceNames(r.Units)
}

// Close closes every result.
func (r *QueryResults) Close() error {
	var err error
	for _, res := range r.Results {
		if res != nil {
			err = multierr.Append(err, res.Close())
		}
	}
	return err
}

type ExecResult struct {
	Unit         route.RoutingUnit
	RowsAffected int64
	LastInsertID int64
}

type task struct {
	dataSource string
	indexes    []int
}

// group splits units into tasks according to the connection mode, keeping first-appearance
// order of data sources.
func (e *Executor) group(units []rewrite.SQLUnit) []task {
	if e.cfg.Mode == ConnectionStrict {
		tasks := make([]task, len(units))
		for i, u := range units {
			tasks[i] = task{dataSource: u.Unit.DataSourceName, indexes: []int{i}}
		}
		return tasks
	}
	var tasks []task
	at := map[string]int{}
	for i, u := range units {
		ds := u.Unit.DataSourceName
		j, ok := at[ds]
		if !ok {
			j = len(tasks)
			at[ds] = j
			tasks = append(tasks, task{dataSource: ds})
		}
		tasks[j].indexes = append(tasks[j].indexes, i)
	}
	return tasks
}

func (e *Executor) dataSource(name string) (DataSource, error) {
	ds, ok := e.dataSources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataSource, name)
	}
	return ds, nil
}

func (e *Executor) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// run submits one job per task and waits for all of them. fail is called with every job error.
func (e *Executor) run(tasks []task, job func(task) error, fail func(error)) {
	var wg sync.WaitGroup
	for _, t := range tasks {
		t := t
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.PanicCounter.WithLabelValues("unit").Inc()
					fail(fmt.Errorf("%w: %s: %v", ErrPanic, t.dataSource, r))
				}
			}()
			if err := job(t); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit %s: %w", t.dataSource, err))
		}
	}
	wg.Wait()
}

// Query runs every unit and returns their results in unit order. Under FailFast the first error
// cancels the rest, closes whatever was opened and is returned.
func (e *Executor) Query(ctx context.Context, units []rewrite.SQLUnit) (*QueryResults, error) {
	return e.QueryWithPolicy(ctx, units, e.cfg.Policy)
}

// QueryWithPolicy is Query with the failure policy of one statement.
func (e *Executor) QueryWithPolicy(ctx context.Context, units []rewrite.SQLUnit, policy FailurePolicy) (*QueryResults, error) {
	stmtCtx, cancel := e.statementContext(ctx)
	l := &lease{cancel: cancel}
	out := &QueryResults{Units: units, Results: make([]QueryResult, len(units)), Errors: make([]error, len(units))}
	var (
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			if policy == FailFast {
				cancel()
			}
		}
		mu.Unlock()
	}
	e.run(e.group(units), func(t task) error {
		return e.queryTask(stmtCtx, l, t, units, out, policy, fail)
	}, fail)

	if policy == FailFast && firstErr != nil {
		closeErr := out.Close()
		l.seal()
		return nil, multierr.Append(firstErr, closeErr)
	}
	l.seal()
	if len(out.Available()) == 0 && firstErr != nil {
		return nil, out.Err()
	}
	return out, nil
}

func (e *Executor) queryTask(ctx context.Context, l *lease, t task, units []rewrite.SQLUnit, out *QueryResults, policy FailurePolicy, fail func(error)) error {
	ds, err := e.dataSource(t.dataSource)
	if err != nil {
		for _, i := range t.indexes {
			out.Errors[i] = err
		}
		return err
	}
	conn, err := ds.Conn(ctx)
	if err != nil {
		err = fmt.Errorf("connect %s: %w", t.dataSource, err)
		for _, i := range t.indexes {
			out.Errors[i] = err
		}
		return err
	}
	if len(t.indexes) == 1 {
		i := t.indexes[0]
		rows, err := e.query(ctx, conn, units[i])
		if err != nil {
			out.Errors[i] = err
			return multierr.Append(err, conn.Close())
		}
		l.acquire()
		res, err := newStreamQueryResult(rows, conn, l.release)
		if err != nil {
			l.release()
			out.Errors[i] = err
			return multierr.Combine(err, rows.Close(), conn.Close())
		}
		out.Results[i] = res
		return nil
	}
	defer conn.Close()
	var taskErr error
	for _, i := range t.indexes {
		if ctx.Err() != nil {
			out.Errors[i] = ctx.Err()
			taskErr = multierr.Append(taskErr, ctx.Err())
			continue
		}
		rows, err := e.query(ctx, conn, units[i])
		if err == nil {
			var res *MemoryQueryResult
			if res, err = loadMemory(rows); err == nil {
				out.Results[i] = res
			}
		}
		if err != nil {
			out.Errors[i] = err
			if policy == FailFast {
				return err
			}
			fail(err)
		}
	}
	return taskErr
}

func (e *Executor) query(ctx context.Context, conn *sql.Conn, unit rewrite.SQLUnit) (*sql.Rows, error) {
	begin := time.Now()
	rows, err := conn.QueryContext(ctx, unit.SQL, unit.Params...)
	e.observe(ctx, unit, begin, -1, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", unit.Unit.DataSourceName, err)
	}
	return rows, nil
}

// Exec runs write units; writes always fail fast.
func (e *Executor) Exec(ctx context.Context, units []rewrite.SQLUnit) ([]ExecResult, error) {
	stmtCtx, cancel := e.statementContext(ctx)
	defer cancel()
	out := make([]ExecResult, len(units))
	var (
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}
	e.run(e.group(units), func(t task) error {
		ds, err := e.dataSource(t.dataSource)
		if err != nil {
			return err
		}
		conn, err := ds.Conn(stmtCtx)
		if err != nil {
			return fmt.Errorf("connect %s: %w", t.dataSource, err)
		}
		defer conn.Close()
		for _, i := range t.indexes {
			begin := time.Now()
			res, err := conn.ExecContext(stmtCtx, units[i].SQL, units[i].Params...)
			if err != nil {
				e.observe(stmtCtx, units[i], begin, 0, err)
				return fmt.Errorf("%s: %w", units[i].Unit.DataSourceName, err)
			}
			affected, _ := res.RowsAffected()
			lastID, _ := res.LastInsertId()
			e.observe(stmtCtx, units[i], begin, affected, nil)
			out[i] = ExecResult{Unit: units[i].Unit, RowsAffected: affected, LastInsertID: lastID}
		}
		return nil
	}, fail)
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// observe writes the unit to the sql-show log and metrics.
func (e *Executor) observe(ctx context.Context, unit rewrite.SQLUnit, begin time.Time, rows int64, err error) {
	ds := unit.Unit.DataSourceName
	metrics.ExecuteCounter.WithLabelValues(ds, metrics.RetLabel(err)).Inc()
	metrics.ExecuteDuration.WithLabelValues(ds).Observe(time.Since(begin).Seconds())
	e.log.Trace(ctx, begin, func() (string, int64) {
		return "[" + ds + "] " + logger.ExplainSQL(unit.SQL, nil, "'", unit.Params...), rows
	}, err)
}

func dataSourceNames(units []rewrite.SQLUnit) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, u := range units {
		if _, ok := seen[u.Unit.DataSourceName]; !ok {
			seen[u.Unit.DataSourceName] = struct{}{}
			out = append(out, u.Unit.DataSourceName)
		}
	}
	return out
}

// DataSourceNames returns the physical data sources units run on, in order.
func DataSourceNames(units []rewrite.SQLUnit) []string {
	return dataSourceNames(units)
}
