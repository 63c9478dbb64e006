// Package outbox is the gate-side outbox emitter (C4): it appends durable
// OutboxEvent rows from the mutations the scan state machine (C3), the
// midnight closer (C7), and the repair replayer (C8) produce.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/library-systems/gatehouse/internal/gatestore"
	"github.com/library-systems/gatehouse/internal/model"
)

// Append inserts a new OutboxEvent row with a freshly generated event_id —
// the idempotency key for everything downstream. Must be called against the
// same transaction as the store mutation it documents (§4.3 "invariants at
// commit time"); q is typically a pgx.Tx but accepts anything satisfying
// gatestore.Querier so callers can substitute a fake in tests.
func Append(ctx context.Context, q gatestore.Querier, eventType model.EventType, payload map[string]interface{}) (uuid.UUID, error) {
	id := uuid.New()
	ev := &model.OutboxEvent{
		EventID:   id,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := gatestore.InsertOutboxEvent(ctx, q, ev); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// EntryBody renders an EntryLog as the JSON body of an ENTRY or
// ENTRY_EXPIRED_SEEN outbox event, matching model.WireEvent's field names.
// Shared by the scan state machine (C3), the midnight closer (C7), and the
// full-replay repair tool (C8) so the wire shape stays in one place.
func EntryBody(e *model.EntryLog) map[string]interface{} {
	body := map[string]interface{}{
		"entryId": e.ID,
		"roll":    e.Roll,
		"status":  string(e.Status),
	}
	if e.EntryFlag != nil {
		body["entryFlag"] = string(*e.EntryFlag)
	}
	if e.ScannedAt != nil {
		body["scannedAt"] = e.ScannedAt
	}
	if e.Laptop != nil {
		body["laptop"] = *e.Laptop
	}
	if len(e.Extra) > 0 {
		body["extra"] = e.Extra
	}
	if e.DeviceMeta != nil {
		body["deviceMeta"] = e.DeviceMeta
	}
	if e.DeviceID != nil {
		body["deviceId"] = *e.DeviceID
	}
	if e.Source != nil {
		body["source"] = *e.Source
	}
	if e.OS != nil {
		body["os"] = *e.OS
	}
	return body
}

// ExitBody renders an ExitLog as the JSON body of an EXIT outbox event.
func ExitBody(x *model.ExitLog) map[string]interface{} {
	body := map[string]interface{}{
		"exitId":   x.ID,
		"roll":     x.Roll,
		"exitFlag": string(x.ExitFlag),
	}
	if x.EntryID != nil {
		body["entryId"] = *x.EntryID
	}
	if x.ScannedAt != nil {
		body["scannedAt"] = x.ScannedAt
	}
	if x.Laptop != nil {
		body["laptop"] = *x.Laptop
	}
	if len(x.Extra) > 0 {
		body["extra"] = x.Extra
	}
	if x.DeviceMeta != nil {
		body["deviceMeta"] = x.DeviceMeta
	}
	if x.DeviceID != nil {
		body["deviceId"] = *x.DeviceID
	}
	if x.Source != nil {
		body["source"] = *x.Source
	}
	if x.OS != nil {
		body["os"] = *x.OS
	}
	return body
}
