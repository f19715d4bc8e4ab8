package broker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ftmsg/pkg/metrics"
	"ftmsg/storage"
)

// Publish spools msg on a queue, or on every queue subscribed to a topic
// matching the destination. A topic nobody subscribes to discards the message.
func (b *Broker) Publish(ctx context.Context, dest Destination, msg OutboundMessage) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if msg.DeliveryMode == "" {
		msg.DeliveryMode = storage.DeliveryPersistent
	}

	switch dest.Kind {
	case KindQueue:
		return b.spool(ctx, dest.Name, dest, msg)
	case KindTopic:
		if !validTopic(dest.Name) {
			return fmt.Errorf("%q: %w", dest.Name, ErrInvalidTopic)
		}
		var errs []error
		for _, queue := range b.matchingQueues(dest.Name) {
			if err := b.spool(ctx, queue, dest, msg); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("unknown destination kind %q", dest.Kind)
	}
}

// matchingQueues returns the queues with at least one subscription matching
// topic, each listed once.
func (b *Broker) matchingQueues(topic string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for s := range b.subs {
		if _, ok := seen[s.Queue]; ok {
			continue
		}
		if MatchTopic(s.Topic, topic) {
			seen[s.Queue] = struct{}{}
			out = append(out, s.Queue)
		}
	}
	return out
}

func (b *Broker) spool(ctx context.Context, queue string, dest Destination, msg OutboundMessage) error {
	id, err := b.store.QueuePush(ctx, queue, storage.QueueMessage{
		Destination:  dest.String(),
		Data:         msg.Payload,
		DeliveryMode: msg.DeliveryMode,
	})
	if err != nil {
		return err
	}
	metrics.MessagesPublished.WithLabelValues(queue).Inc()
	b.log.Debug("message spooled",
		zap.String("queue", queue),
		zap.String("destination", dest.String()),
		zap.String("id", id))
	b.notify(queue)
	return nil
}
