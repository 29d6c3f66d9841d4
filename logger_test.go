package shardroute

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
	"gorm/shardroute/rewrite"
	"gorm/shardroute/route"
	"gorm/shardroute/statement"
)

type recordLogger struct {
	lines []string
}

func (l *recordLogger) LogMode(logger.LogLevel) logger.Interface { return l }

func (l *recordLogger) Info(_ context.Context, msg string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(msg, args...))
}

func (l *recordLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(msg, args...))
}

func (l *recordLogger) Error(_ context.Context, msg string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(msg, args...))
}

func (l *recordLogger) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	l.lines = append(l.lines, sql)
}

func TestSQLShowLogger(t *testing.T) {
	trace := func() (string, int64) { return "[ds_0] SELECT 1", 1 }
	rec := &recordLogger{}
	quiet := NewSQLShowLogger(rec, false)
	quiet.Trace(context.Background(), time.Now(), trace, nil)
	assert.Empty(t, rec.lines)
	quiet.Trace(context.Background(), time.Now(), trace, errors.New("boom"))
	assert.Equal(t, []string{"[ds_0] SELECT 1"}, rec.lines)

	rec = &recordLogger{}
	show := NewSQLShowLogger(rec, true)
	assert.Equal(t, show, NewSQLShowLogger(show, true))
	show.Trace(context.Background(), time.Now(), trace, nil)
	rc := &route.RouteContext{Statement: &statement.Context{SQL: "SELECT * FROM t_order"}}
	units := []rewrite.SQLUnit{{Unit: route.RoutingUnit{
		DataSourceName: "ds_1",
		TableUnits:     []route.TableUnit{{Logic: "t_order", Actual: "t_order_1"}},
	}}}
	show.(sqlShowLogger).logicSQL(context.Background(), rc, units)
	assert.Equal(t, []string{
		"[ds_0] SELECT 1",
		"Logic SQL: SELECT * FROM t_order ::: route: [ds_1.t_order_1] full: false",
	}, rec.lines)
}
