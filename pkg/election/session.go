package election

import (
	"context"
	"time"

	"ftmsg/pkg/broker"
	"ftmsg/storage"
)

// Session is the broker connection an election runs on. Both the in-process
// broker.Session and the gRPC client session satisfy it.
type Session interface {
	Capable(c broker.Capability) bool
	Provision(ctx context.Context, ep storage.Endpoint, ignoreExists bool) error
	AddSubscription(ctx context.Context, queue, topic string) error
	CreateFlow(ctx context.Context, opts broker.FlowOptions, onMsg broker.MessageHandler, onEvent broker.FlowEventHandler) (broker.Flow, error)
	Publish(ctx context.Context, dest broker.Destination, msg broker.OutboundMessage) error
	Browse(ctx context.Context, queue string, wait time.Duration) (*broker.Message, error)
	Close() error
}

var _ Session = (*broker.Session)(nil)

// RequiredCapabilities are the broker features every strategy relies on.
var RequiredCapabilities = []broker.Capability{
	broker.CapActiveFlowIndication,
	broker.CapGuaranteedFlow,
	broker.CapEndpointManagement,
	broker.CapBrowse,
	broker.CapQueueSubscription,
}

// ValidateCapabilities returns a *CapabilityError naming every required
// capability the session lacks.
func ValidateCapabilities(s Session) error {
	var missing []broker.Capability
	for _, c := range RequiredCapabilities {
		if !s.Capable(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &CapabilityError{Missing: missing}
	}
	return nil
}

// clusterEndpoint is the exclusive last-value queue backing a cluster.
func clusterEndpoint(cluster string) storage.Endpoint {
	return storage.Endpoint{
		Name:       cluster,
		AccessType: storage.AccessExclusive,
		Quota:      storage.QuotaLastValue,
		Permission: storage.PermissionDelete,
	}
}
