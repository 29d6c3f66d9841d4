package route

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"

	"gorm/shardroute/rule"
	"gorm/shardroute/statement"
)

const (
	Random     = "RANDOM"
	RoundRobin = "ROUND_ROBIN"
)

// LoadBalancer picks the replica serving a read of one master-slave group.
type LoadBalancer interface {
	Pick(group string, slaves []string) string
}

// RandomPolicy 随机路由
type RandomPolicy struct{}

func (RandomPolicy) Pick(_ string, slaves []string) string {
	return slaves[rand.Intn(len(slaves))]
}

// RoundRobinPolicy keeps one counter per group.
type RoundRobinPolicy struct {
	counters sync.Map
}

func (p *RoundRobinPolicy) Pick(group string, slaves []string) string {
	v, _ := p.counters.LoadOrStore(group, new(atomic.Uint64))
	n := v.(*atomic.Uint64).Add(1) - 1
	return slaves[n%uint64(len(slaves))]
}

type masterSlaveRouter struct {
	groups    map[string]*rule.MasterSlaveRule
	balancers map[string]LoadBalancer
}

func newMasterSlaveRouter(r *rule.ShardingRule, balancers map[string]LoadBalancer) (*masterSlaveRouter, error) {
	m := &masterSlaveRouter{groups: map[string]*rule.MasterSlaveRule{}, balancers: map[string]LoadBalancer{}}
	for _, ms := range r.MasterSlaveRules {
		name := strings.ToUpper(ms.LoadBalance)
		if name == "" {
			name = RoundRobin
		}
		lb, ok := balancers[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown load balancer %q for %s", rule.ErrInvalidRule, ms.LoadBalance, ms.Name)
		}
		m.groups[strings.ToLower(ms.Name)] = ms
		m.balancers[strings.ToLower(ms.Name)] = lb
	}
	return m, nil
}

// decorate replaces master-slave group names in rc by physical data sources. Writes, locking
// reads, master-only sessions and sessions that already wrote go to the master. The session is
// only read; the caller marks it once a write has run.
func (m *masterSlaveRouter) decorate(session *Session, ctx *statement.Context, rc *RouteContext) {
	if len(m.groups) == 0 {
		return
	}
	master := ctx.IsWrite() || ctx.Lock || session.IsMasterRouteOnly() || session.HasWritten()
	for i, u := range rc.Units {
		key := strings.ToLower(u.LogicDataSourceName)
		ms, ok := m.groups[key]
		if !ok {
			continue
		}
		rc.MasterSlave = true
		if master || len(ms.Slaves) == 0 {
			rc.Units[i].DataSourceName = ms.Master
			continue
		}
		rc.Units[i].DataSourceName = m.balancers[key].Pick(ms.Name, ms.Slaves)
	}
}
