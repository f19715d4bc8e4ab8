package election

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"ftmsg/pkg/metrics"
)

// ClusterBinding is one participation of a Manager in its cluster's election,
// from Start to Stop. It sits between the strategy and the application
// listener: it drops repeated notifications of the same role, serializes the
// listener calls, and ignores anything that arrives after Stop.
type ClusterBinding struct {
	Cluster  string
	ID       string
	Strategy string
	BoundAt  time.Time

	m        *Manager
	listener RoleListener

	mu       sync.Mutex
	detached bool
	role     atomic.Int32
}

var _ RoleListener = (*ClusterBinding)(nil)

func newClusterBinding(m *Manager) *ClusterBinding {
	return &ClusterBinding{
		Cluster:  m.cluster,
		ID:       uuid.New().String(),
		Strategy: m.strategy.Name(),
		BoundAt:  time.Now(),
		m:        m,
		listener: m.listener,
	}
}

// Role returns the role of this binding.
func (b *ClusterBinding) Role() Role { return Role(b.role.Load()) }

func (b *ClusterBinding) OnActive(snapshot *Snapshot) { b.transition(RoleActive, snapshot) }
func (b *ClusterBinding) OnBackup()                   { b.transition(RoleBackup, nil) }

func (b *ClusterBinding) transition(to Role, snapshot *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return
	}
	from := Role(b.role.Load())
	if from == to {
		return
	}
	b.role.Store(int32(to))
	b.m.role.Store(int32(to))
	b.record(from, to, snapshot)

	if to == RoleActive {
		b.listener.OnActive(snapshot)
	} else {
		b.listener.OnBackup()
	}
}

func (b *ClusterBinding) record(from, to Role, snapshot *Snapshot) {
	_, span := b.m.tracer.Start(context.Background(), "election.role_transition",
		trace.WithAttributes(
			attribute.String("cluster", b.Cluster),
			attribute.String("member_id", b.m.memberID),
			attribute.String("binding_id", b.ID),
			attribute.String("from", from.String()),
			attribute.String("to", to.String()),
		),
	)
	defer span.End()

	metrics.RecordRole(b.Cluster, b.m.memberID, to.String())

	fields := []zap.Field{
		zap.String("cluster", b.Cluster),
		zap.String("member", b.m.memberID),
		zap.Stringer("from", from),
	}
	if to == RoleActive {
		if snapshot != nil {
			fields = append(fields, zap.Bool("state_recovered", snapshot.Found))
			span.SetAttributes(attribute.Bool("state_recovered", snapshot.Found))
		}
		b.m.log.Info("member became active", fields...)
		span.AddEvent("became_active")
	} else {
		b.m.log.Info("member became backup", fields...)
		span.AddEvent("became_backup")
	}
}

// detach ends the binding: later strategy callbacks are dropped and the
// listener gets OnBackup if the member was active. It reports whether the
// member was active.
func (b *ClusterBinding) detach() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return false
	}
	b.detached = true
	wasActive := Role(b.role.Swap(int32(RoleUnbound))) == RoleActive
	b.m.role.Store(int32(RoleUnbound))
	if wasActive {
		b.record(RoleActive, RoleBackup, nil)
		b.listener.OnBackup()
	}
	return wasActive
}
