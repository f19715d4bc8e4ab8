package broker

import (
	"errors"
	"time"

	"ftmsg/storage"
)

var (
	ErrQueueExists          = storage.ErrQueueExists
	ErrQueueNotFound        = storage.ErrQueueNotFound
	ErrQueueFull            = storage.ErrQueueFull
	ErrSubscriptionExists   = storage.ErrSubscriptionExists
	ErrSubscriptionNotFound = storage.ErrSubscriptionNotFound

	// ErrFlowClosed is returned by operations on a closed flow.
	ErrFlowClosed = errors.New("flow closed")
	// ErrBrokerClosed is returned once the broker has been shut down.
	ErrBrokerClosed = errors.New("broker closed")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrPermissionDenied is returned when an endpoint's permission forbids the operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidTopic is returned for empty or malformed topics.
	ErrInvalidTopic = errors.New("invalid topic")
)

// Capability is a feature a session may or may not support.
type Capability string

const (
	CapActiveFlowIndication Capability = "active-flow-indication"
	CapGuaranteedFlow       Capability = "guaranteed-flow"
	CapEndpointManagement   Capability = "endpoint-management"
	CapBrowse               Capability = "browse"
	CapQueueSubscription    Capability = "queue-subscription"
)

// AllCapabilities lists every capability the embedded broker provides.
func AllCapabilities() []Capability {
	return []Capability{
		CapActiveFlowIndication,
		CapGuaranteedFlow,
		CapEndpointManagement,
		CapBrowse,
		CapQueueSubscription,
	}
}

// FlowEvent is a broker notification about a bound flow.
type FlowEvent int

const (
	// FlowActive means the flow was granted delivery rights on its queue.
	FlowActive FlowEvent = iota + 1
	// FlowInactive means the flow lost delivery rights but is still bound.
	FlowInactive
	// FlowDown means the broker unbound the flow; no further events follow.
	FlowDown
)

func (e FlowEvent) String() string {
	switch e {
	case FlowActive:
		return "active"
	case FlowInactive:
		return "inactive"
	case FlowDown:
		return "down"
	default:
		return "unknown"
	}
}

// FlowEventArgs accompanies a flow event.
type FlowEventArgs struct {
	Event  FlowEvent
	FlowID string
	Queue  string
	Info   string
}

// FlowEventHandler receives flow events on the flow's dispatcher goroutine.
type FlowEventHandler func(FlowEventArgs)

// MessageHandler receives messages on the flow's dispatcher goroutine.
type MessageHandler func(*Message)

// FlowOptions configures a consumer flow.
type FlowOptions struct {
	Queue string
	// ActiveFlowIndication requests FlowActive/FlowInactive events.
	ActiveFlowIndication bool
	// StartState starts delivery immediately; false creates the flow stopped.
	StartState bool
	// AutoAck acknowledges each message once its handler returns.
	AutoAck bool
	// Window bounds unacknowledged deliveries. Zero means DefaultWindow.
	Window int
}

// DefaultWindow is the unacknowledged delivery window used when FlowOptions.Window is zero.
const DefaultWindow = 64

// Flow is a consumer bound to one queue.
type Flow interface {
	ID() string
	Queue() string
	// Start resumes message delivery.
	Start() error
	// Stop suspends message delivery; events are still delivered.
	Stop() error
	// Close unbinds the flow. No callbacks run after Close returns. Close must
	// not be called from the flow's own callbacks.
	Close() error
}

// DestinationKind tells queues and topics apart.
type DestinationKind string

const (
	KindQueue DestinationKind = "queue"
	KindTopic DestinationKind = "topic"
)

// Destination is where a message is published.
type Destination struct {
	Kind DestinationKind `json:"kind"`
	Name string          `json:"name"`
}

func QueueDestination(name string) Destination { return Destination{Kind: KindQueue, Name: name} }
func TopicDestination(name string) Destination { return Destination{Kind: KindTopic, Name: name} }

func (d Destination) String() string { return string(d.Kind) + ":" + d.Name }

// OutboundMessage is a message about to be published.
type OutboundMessage struct {
	Payload      []byte
	DeliveryMode storage.DeliveryMode
}

// Message is a message delivered by a flow or returned by a browse.
type Message struct {
	ID           string
	Queue        string
	Destination  string
	Payload      []byte
	DeliveryMode storage.DeliveryMode
	Redelivered  bool
	PublishedAt  time.Time

	ack func() error
}

// SetAcker installs the acknowledgement hook used by Ack.
func (m *Message) SetAcker(fn func() error) { m.ack = fn }

// Ack acknowledges the message. Browsed messages have nothing to acknowledge.
func (m *Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

// FromQueueMessage converts a spooled message.
func FromQueueMessage(qm storage.QueueMessage) *Message {
	return &Message{
		ID:           qm.ID,
		Queue:        qm.Queue,
		Destination:  qm.Destination,
		Payload:      qm.Data,
		DeliveryMode: qm.DeliveryMode,
		Redelivered:  qm.Redelivered,
		PublishedAt:  qm.CreatedAt,
	}
}

// QueueStatus is the administrative view of a queue.
type QueueStatus struct {
	Endpoint   storage.Endpoint   `json:"endpoint"`
	Stats      storage.QueueStats `json:"stats"`
	Flows      int                `json:"flows"`
	ActiveFlow string             `json:"active_flow"`
	Egress     bool               `json:"egress"`
}
