package broker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ftmsg/storage"
)

// ListQueues returns all provisioned queue names.
func (b *Broker) ListQueues(ctx context.Context) ([]string, error) {
	return b.store.QueueList(ctx)
}

// QueueStatus returns the endpoint, spool statistics and flow bindings of queue.
func (b *Broker) QueueStatus(ctx context.Context, queue string) (QueueStatus, error) {
	ep, err := b.store.QueueInfo(ctx, queue)
	if err != nil {
		return QueueStatus{}, err
	}
	stats, err := b.store.QueueStats(ctx, queue)
	if err != nil {
		return QueueStatus{}, err
	}

	st := QueueStatus{Endpoint: ep, Stats: stats, Egress: true}
	b.mu.Lock()
	if qs, ok := b.queues[queue]; ok {
		st.Flows = len(qs.flows)
		st.Egress = qs.egress
		if qs.active != nil {
			st.ActiveFlow = qs.active.id
		}
	}
	b.mu.Unlock()
	return st, nil
}

// Purge removes all spooled messages from queue and returns how many were removed.
func (b *Broker) Purge(ctx context.Context, queue string) (int64, error) {
	return b.store.QueuePurge(ctx, queue)
}

// DeleteQueue removes queue with its messages and subscriptions. Bound flows
// receive FlowDown. Endpoints provisioned without delete permission cannot be
// removed.
func (b *Broker) DeleteQueue(ctx context.Context, queue string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	ep, err := b.store.QueueInfo(ctx, queue)
	if err != nil {
		return err
	}
	if ep.Permission != storage.PermissionDelete {
		return fmt.Errorf("delete %s: %w", queue, ErrPermissionDenied)
	}
	if err := b.store.QueueDelete(ctx, queue); err != nil {
		return err
	}

	b.mu.Lock()
	var flows []*flow
	if qs, ok := b.queues[queue]; ok {
		flows = qs.flows
		delete(b.queues, queue)
	}
	for s := range b.subs {
		if s.Queue == queue {
			delete(b.subs, s)
		}
	}
	b.mu.Unlock()

	for _, f := range flows {
		f.down("queue deleted")
	}
	b.log.Info("queue deleted", zap.String("queue", queue), zap.Int("flows", len(flows)))
	return nil
}
