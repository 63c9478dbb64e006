// Package model holds the shared data-model types used by both the gate and
// backend stores, and the wire envelope exchanged between them.
package model

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus is the lifecycle state of an EntryLog row.
type EntryStatus string

const (
	EntryPending EntryStatus = "PENDING"
	EntryEntered EntryStatus = "ENTERED"
	EntryExited  EntryStatus = "EXITED"
	EntryExpired EntryStatus = "EXPIRED"
)

// EntryFlag classifies how an EntryLog's ENTERED state was reached.
type EntryFlag string

const (
	NormalEntry EntryFlag = "NORMAL_ENTRY"
	ForcedEntry EntryFlag = "FORCED_ENTRY"
	// DuplicateEntry is reserved: the state machine never constructs it (see
	// the scanstate package doc comment for why).
	DuplicateEntry EntryFlag = "DUPLICATE_ENTRY"
)

// ExitFlag classifies how an ExitLog was produced.
type ExitFlag string

const (
	NormalExit    ExitFlag = "NORMAL_EXIT"
	EmergencyExit ExitFlag = "EMERGENCY_EXIT"
	OrphanExit    ExitFlag = "ORPHAN_EXIT"
	AutoExit      ExitFlag = "AUTO_EXIT"
	DuplicateExit ExitFlag = "DUPLICATE_EXIT"
)

// EventType enumerates the replicated event kinds carried over the wire
// protocol between the gate's outbox and the backend's ingestion receiver.
type EventType string

const (
	EventEntry             EventType = "ENTRY"
	EventExit              EventType = "EXIT"
	EventEntryExpiredSeen  EventType = "ENTRY_EXPIRED_SEEN"
)

// ExtraItem is one element of the ordered "extra" key/value sequence carried
// on EntryLog/ExitLog rows and on tokens.
type ExtraItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// User is identified by an opaque institution-issued roll string.
type User struct {
	Roll string `json:"roll"`
}

// EntryLog represents one intended visit, allocated at issuance time.
type EntryLog struct {
	ID         uuid.UUID              `json:"id"`
	Roll       string                 `json:"roll"`
	Status     EntryStatus            `json:"status"`
	EntryFlag  *EntryFlag             `json:"entryFlag,omitempty"`
	Laptop     *string                `json:"laptop,omitempty"`
	Extra      []ExtraItem            `json:"extra,omitempty"`
	DeviceMeta map[string]interface{} `json:"deviceMeta,omitempty"`
	Source     *string                `json:"source,omitempty"`
	OS         *string                `json:"os,omitempty"`
	DeviceID   *string                `json:"deviceId,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	ScannedAt  *time.Time             `json:"scannedAt,omitempty"`
}

// ExitLog is one exit event, gate-allocated at scan time.
type ExitLog struct {
	ID         uuid.UUID              `json:"id"`
	Roll       string                 `json:"roll"`
	EntryID    *uuid.UUID             `json:"entryId,omitempty"`
	ExitFlag   ExitFlag               `json:"exitFlag"`
	Laptop     *string                `json:"laptop,omitempty"`
	Extra      []ExtraItem            `json:"extra,omitempty"`
	DeviceMeta map[string]interface{} `json:"deviceMeta,omitempty"`
	Source     *string                `json:"source,omitempty"`
	OS         *string                `json:"os,omitempty"`
	DeviceID   *string                `json:"deviceId,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	ScannedAt  *time.Time             `json:"scannedAt,omitempty"`
}

// OutboxEvent is a durable, gate-local replication-queue row.
type OutboxEvent struct {
	EventID       uuid.UUID              `json:"eventId"`
	EventType     EventType              `json:"eventType"`
	Payload       map[string]interface{} `json:"payload"`
	CreatedAt     time.Time              `json:"createdAt"`
	SentAt        *time.Time             `json:"sentAt,omitempty"`
	AttemptCount  int                    `json:"attemptCount"`
	LastAttemptAt *time.Time             `json:"lastAttemptAt,omitempty"`
	NextRetryAt   *time.Time             `json:"nextRetryAt,omitempty"`
	LastError     string                 `json:"lastError,omitempty"`
}

// ProcessedGateEvent is the backend-side idempotency guard: its presence
// means the event_id has been applied at least once.
type ProcessedGateEvent struct {
	EventID    uuid.UUID `json:"eventId"`
	EventType  string    `json:"eventType"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// WireEvent is one element of the {"events": [...]} batch exchanged between
// the replication worker (C5) and the ingestion receiver (C6), and reused
// verbatim by the repair replayer (C8).
type WireEvent struct {
	EventID uuid.UUID `json:"eventId"`
	Type    EventType `json:"type"`

	// ENTRY / ENTRY_EXPIRED_SEEN
	EntryID   *uuid.UUID  `json:"entryId,omitempty"`
	Roll      string      `json:"roll,omitempty"`
	ScannedAt *time.Time  `json:"scannedAt,omitempty"`
	Status    *string     `json:"status,omitempty"`
	EntryFlag *string     `json:"entryFlag,omitempty"`

	// EXIT
	ExitID   *uuid.UUID `json:"exitId,omitempty"`
	ExitFlag *string    `json:"exitFlag,omitempty"`

	Laptop     *string                `json:"laptop,omitempty"`
	Extra      []ExtraItem            `json:"extra,omitempty"`
	DeviceMeta map[string]interface{} `json:"deviceMeta,omitempty"`
	DeviceID   *string                `json:"deviceId,omitempty"`
	Source     *string                `json:"source,omitempty"`
	OS         *string                `json:"os,omitempty"`
}

// SyncRequest is the POST body C5 sends to C6, and C8 re-sends during repair.
type SyncRequest struct {
	Events []WireEvent `json:"events"`
}

// RejectedEvent is one element of SyncResponse.Rejected.
type RejectedEvent struct {
	EventID string `json:"eventId"`
	Error   string `json:"error"`
}

// SyncResponse is C6's reply to a SyncRequest.
type SyncResponse struct {
	AckedEventIDs []string        `json:"ackedEventIds"`
	Rejected      []RejectedEvent `json:"rejected"`
	ServerTime    time.Time       `json:"serverTime"`
}
