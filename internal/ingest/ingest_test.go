package ingest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/library-systems/gatehouse/internal/model"
)

func TestValidateMissingEventID(t *testing.T) {
	ev := model.WireEvent{Type: model.EventEntry, Roll: "23bcs001", EntryID: uuidPtr(uuid.New())}
	assert.Equal(t, "Missing eventId", validate(ev))
}

func TestValidateUnknownEventType(t *testing.T) {
	ev := model.WireEvent{EventID: uuid.New(), Type: "BOGUS"}
	assert.Equal(t, "Unknown event type", validate(ev))
}

func TestValidateEmptyTypeWithValidEventIDIsUnknownType(t *testing.T) {
	ev := model.WireEvent{EventID: uuid.New(), Roll: "23bcs001"}
	assert.Equal(t, "Unknown event type", validate(ev))
}

func TestValidateEntryRequiresEntryID(t *testing.T) {
	ev := model.WireEvent{EventID: uuid.New(), Type: model.EventEntry, Roll: "23bcs001"}
	assert.Equal(t, "ENTRY requires entryId", validate(ev))
}

func TestValidateEntryRequiresRoll(t *testing.T) {
	ev := model.WireEvent{EventID: uuid.New(), Type: model.EventEntry, EntryID: uuidPtr(uuid.New())}
	assert.Equal(t, "ENTRY requires roll", validate(ev))
}

func TestValidateExitRequiresRoll(t *testing.T) {
	ev := model.WireEvent{EventID: uuid.New(), Type: model.EventExit}
	assert.Equal(t, "EXIT requires roll", validate(ev))
}

func TestValidateAcceptsWellFormedEntry(t *testing.T) {
	ev := model.WireEvent{EventID: uuid.New(), Type: model.EventEntry, Roll: "23bcs001", EntryID: uuidPtr(uuid.New())}
	assert.Equal(t, "", validate(ev))
}

func TestValidateAcceptsWellFormedExit(t *testing.T) {
	ev := model.WireEvent{EventID: uuid.New(), Type: model.EventExit, Roll: "23bcs001"}
	assert.Equal(t, "", validate(ev))
}

func TestDomainEventEnvelopeEntryEntered(t *testing.T) {
	status := string(model.EntryEntered)
	entryID := uuid.New()
	ev := model.WireEvent{EventID: uuid.New(), Type: model.EventEntry, Roll: "23bcs001", EntryID: &entryID, Status: &status}

	subject, body, err := domainEventEnvelope(ev)

	require.NoError(t, err)
	assert.Equal(t, "entry_log.entered", subject)
	assert.Contains(t, string(body), `"entryId"`)
}

func TestDomainEventEnvelopeEntryExpiredSeenDefaultsToExpired(t *testing.T) {
	entryID := uuid.New()
	ev := model.WireEvent{EventID: uuid.New(), Type: model.EventEntryExpiredSeen, Roll: "23bcs001", EntryID: &entryID}

	subject, _, err := domainEventEnvelope(ev)

	require.NoError(t, err)
	assert.Equal(t, "entry_log.expired", subject)
}

func TestDomainEventEnvelopeExit(t *testing.T) {
	flag := string(model.NormalExit)
	ev := model.WireEvent{EventID: uuid.New(), Type: model.EventExit, Roll: "23bcs001", ExitFlag: &flag}

	subject, body, err := domainEventEnvelope(ev)

	require.NoError(t, err)
	assert.Equal(t, "exit_log.closed", subject)
	assert.Contains(t, string(body), `"exitFlag":"NORMAL_EXIT"`)
}

func uuidPtr(u uuid.UUID) *uuid.UUID { return &u }
