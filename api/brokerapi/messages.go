// Package brokerapi defines the gRPC wire contract of the broker service.
// Messages are plain structs carried by the JSON codec registered in this
// package.
package brokerapi

import "time"

type Empty struct{}

type CapabilitiesResponse struct {
	Capabilities []string `json:"capabilities"`
}

type ProvisionRequest struct {
	Queue        string `json:"queue"`
	AccessType   string `json:"access_type"`
	Quota        int64  `json:"quota"`
	Permission   string `json:"permission"`
	IgnoreExists bool   `json:"ignore_exists"`
}

type SubscriptionRequest struct {
	Queue string `json:"queue"`
	Topic string `json:"topic"`
}

type Subscription struct {
	Queue string `json:"queue"`
	Topic string `json:"topic"`
}

type ListSubscriptionsResponse struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

type PublishRequest struct {
	Kind         string `json:"kind"`
	Destination  string `json:"destination"`
	Payload      []byte `json:"payload"`
	DeliveryMode string `json:"delivery_mode"`
}

// Message is a delivered or browsed message.
type Message struct {
	ID           string    `json:"id"`
	Queue        string    `json:"queue"`
	Destination  string    `json:"destination"`
	Payload      []byte    `json:"payload"`
	DeliveryMode string    `json:"delivery_mode"`
	Redelivered  bool      `json:"redelivered"`
	PublishedAt  time.Time `json:"published_at"`
}

type BrowseRequest struct {
	Queue      string `json:"queue"`
	WaitMillis int64  `json:"wait_millis"`
}

type BrowseResponse struct {
	Found   bool     `json:"found"`
	Message *Message `json:"message,omitempty"`
}

type BindRequest struct {
	Queue                string `json:"queue"`
	ActiveFlowIndication bool   `json:"active_flow_indication"`
	StartState           bool   `json:"start_state"`
	Window               int    `json:"window"`
	// Consume requests message delivery. Flows bound only for their events
	// leave the queue's messages spooled.
	Consume bool `json:"consume"`
}

// Flow update types sent on a Bind stream.
const (
	UpdateBound   = "bound"
	UpdateEvent   = "event"
	UpdateMessage = "message"
)

// FlowUpdate is one item of a Bind stream. The first update is always of
// type UpdateBound and carries the flow id.
type FlowUpdate struct {
	Type    string   `json:"type"`
	FlowID  string   `json:"flow_id"`
	Event   string   `json:"event,omitempty"`
	Info    string   `json:"info,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// Flow control actions.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

type FlowControlRequest struct {
	FlowID string `json:"flow_id"`
	Action string `json:"action"`
}

type AckRequest struct {
	FlowID    string `json:"flow_id"`
	MessageID string `json:"message_id"`
}

type QueueRequest struct {
	Queue string `json:"queue"`
}

type ListQueuesResponse struct {
	Queues []string `json:"queues"`
}

type QueueStatusResponse struct {
	Queue      string `json:"queue"`
	AccessType string `json:"access_type"`
	Quota      int64  `json:"quota"`
	Permission string `json:"permission"`
	Size       int64  `json:"size"`
	Pending    int64  `json:"pending"`
	Processed  int64  `json:"processed"`
	Dropped    int64  `json:"dropped"`
	Flows      int    `json:"flows"`
	ActiveFlow string `json:"active_flow"`
	Egress     bool   `json:"egress"`
}

type PurgeResponse struct {
	Purged int64 `json:"purged"`
}

type EgressRequest struct {
	Queue   string `json:"queue"`
	Enabled bool   `json:"enabled"`
}
