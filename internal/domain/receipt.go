package domain

import "time"

type ReceiptStatus string

const (
	ReceiptSent      ReceiptStatus = "sent"
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptRead      ReceiptStatus = "read"
)

func (s ReceiptStatus) IsValid() bool {
	return s.rank() > 0
}

func (s ReceiptStatus) rank() int {
	switch s {
	case ReceiptSent:
		return 1
	case ReceiptDelivered:
		return 2
	case ReceiptRead:
		return 3
	}
	return 0
}

// Advance returns the status a receipt ends up in when next is applied on top of s.
// Status only moves forward: sent < delivered < read.
func (s ReceiptStatus) Advance(next ReceiptStatus) ReceiptStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

type MessageReceipt struct {
	MessageID string        `bson:"message_id" json:"message_id"`
	UserID    string        `bson:"user_id" json:"user_id"`
	Status    ReceiptStatus `bson:"status" json:"status"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updated_at"`
}
