// Package election elects one active member among redundant processes bound
// to the same cluster name on a broker, and reports role changes to the
// application through a RoleListener.
package election

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ftmsg/pkg/broker"
)

// Role is the election role of a member.
type Role int32

const (
	RoleUnbound Role = iota
	RoleBackup
	RoleActive
)

func (r Role) String() string {
	switch r {
	case RoleUnbound:
		return "unbound"
	case RoleBackup:
		return "backup"
	case RoleActive:
		return "active"
	default:
		return "unknown"
	}
}

// Snapshot is the last output message recovered on activation in stateful
// mode. Found is false when nothing could be recovered.
type Snapshot struct {
	Found       bool
	Payload     []byte
	Topic       string
	MessageID   string
	PublishedAt time.Time
}

// Empty reports whether the snapshot carries no recovered state. A nil
// snapshot is empty.
func (s *Snapshot) Empty() bool { return s == nil || !s.Found }

func snapshotOf(m *broker.Message) *Snapshot {
	if m == nil {
		return &Snapshot{}
	}
	return &Snapshot{
		Found:       true,
		Payload:     m.Payload,
		Topic:       strings.TrimPrefix(m.Destination, string(broker.KindTopic)+":"),
		MessageID:   m.ID,
		PublishedAt: m.PublishedAt,
	}
}

var (
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("election: manager closed")
	// ErrNotBound is returned when unbinding something that is not bound.
	ErrNotBound = errors.New("election: not bound")
	// ErrAlreadyBound is returned when binding twice.
	ErrAlreadyBound = errors.New("election: already bound")
)

// CapabilityError reports broker features a session lacks.
type CapabilityError struct {
	Missing []broker.Capability
}

func (e *CapabilityError) Error() string {
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = string(c)
	}
	return "election: session lacks required capabilities: " + strings.Join(names, ", ")
}

// ProvisioningError reports a queue that could not be provisioned. An
// already existing queue never produces one.
type ProvisioningError struct {
	Queue string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("election: provision queue %s: %v", e.Queue, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// DeliveryError reports a failed heartbeat publish.
type DeliveryError struct {
	Queue string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("election: deliver to %s: %v", e.Queue, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
