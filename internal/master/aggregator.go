package master

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"yqhp/cherry/internal/protocol"
)

// Aggregator maintains the cluster's total speed from worker echoes and
// renders it for the operator.
type Aggregator struct {
	registry *NodeRegistry
	clock    clockwork.Clock
	log      *zap.Logger
}

// NewAggregator creates an aggregator over registry.
func NewAggregator(registry *NodeRegistry, clock clockwork.Clock, log *zap.Logger) *Aggregator {
	return &Aggregator{registry: registry, clock: clock, log: log}
}

// Report records the speed reported by n and returns the echo reply. Negative
// speeds are treated as zero.
func (a *Aggregator) Report(n *Node, speed int64) (*protocol.EchoReply, error) {
	if speed < 0 {
		speed = 0
	}
	total, becameReady, err := a.registry.UpdateSpeed(n, speed)
	if err != nil {
		return nil, err
	}
	if becameReady {
		a.log.Debug("Node ready", zap.String("ip", n.IP), zap.Int64("speed", speed))
	}
	return &protocol.EchoReply{TotalSpeed: total}, nil
}

// Run calls render with the total speed every interval until ctx is done.
// Unchanged totals are not rendered again.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration, render func(total int64)) {
	ticker := a.clock.NewTicker(interval)
	defer ticker.Stop()

	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			total := a.registry.TotalSpeed()
			if total != last {
				last = total
				render(total)
			}
		}
	}
}

// ClusterMap groups joined nodes by dictionary mode.
type ClusterMap struct {
	TotalSpeed int64      `json:"total_speed"`
	Sync       []NodeInfo `json:"sync"`
	Async      []NodeInfo `json:"async"`
}

// ClusterMap returns the current membership split into sync and async nodes.
func (a *Aggregator) ClusterMap() ClusterMap {
	m := ClusterMap{Sync: []NodeInfo{}, Async: []NodeInfo{}}
	for _, n := range a.registry.Snapshot() {
		m.TotalSpeed += n.Speed
		if n.Async {
			m.Async = append(m.Async, n)
		} else {
			m.Sync = append(m.Sync, n)
		}
	}
	return m
}
