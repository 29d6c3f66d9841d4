package shardroute

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm/logger"
	"gorm/shardroute/rewrite"
	"gorm/shardroute/route"
)

// sqlShowLogger prints the logic SQL, its route and every actual SQL unit when sql show is on.
// When off only failed units reach the wrapped logger.
type sqlShowLogger struct {
	logger.Interface
	show bool
}

func NewSQLShowLogger(l logger.Interface, show bool) logger.Interface {
	if s, ok := l.(sqlShowLogger); ok {
		s.show = show
		return s
	}
	return sqlShowLogger{Interface: l, show: show}
}

func (l sqlShowLogger) LogMode(level logger.LogLevel) logger.Interface {
	return sqlShowLogger{Interface: l.Interface.LogMode(level), show: l.show}
}

func (l sqlShowLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if !l.show && err == nil {
		return
	}
	l.Interface.Trace(ctx, begin, fc, err)
}

// logicSQL logs a statement before dispatch.
func (l sqlShowLogger) logicSQL(ctx context.Context, rc *route.RouteContext, units []rewrite.SQLUnit) {
	if !l.show {
		return
	}
	targets := make([]string, len(units))
	for i, u := range units {
		targets[i] = u.Unit.DataSourceName
		for _, t := range u.Unit.TableUnits {
			targets[i] += "." + t.Actual
		}
	}
	l.Info(ctx, "Logic SQL: %s ::: route: [%s] full: %t", rc.Statement.SQL, strings.Join(targets, ", "), rc.FullRoute)
}
