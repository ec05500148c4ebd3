package domain

import "time"

// DefaultMaxRetries is how many replays a queued operation gets before it is
// dropped.
const DefaultMaxRetries = 3

type OperationType string

const (
	OperationAdd            OperationType = "add"
	OperationRemove         OperationType = "remove"
	OperationUpdateQuantity OperationType = "update-quantity"
)

func (o OperationType) String() string {
	return string(o)
}

type OperationData struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity,omitempty"`
	Item      *Item  `json:"item,omitempty"`
}

// QueuedOperation is a remote mutation waiting to be replayed.
type QueuedOperation struct {
	ID         string        `json:"id"`
	Operation  OperationType `json:"operation"`
	Kind       Kind          `json:"kind"`
	OwnerID    string        `json:"ownerId"`
	Data       OperationData `json:"data"`
	Timestamp  time.Time     `json:"timestamp"`
	RetryCount int           `json:"retryCount"`
	MaxRetries int           `json:"maxRetries"`
}

func (op QueuedOperation) Exhausted() bool {
	return op.RetryCount >= op.MaxRetries
}
