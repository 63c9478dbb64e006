package outbox

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/library-systems/gatehouse/internal/model"
)

func TestEntryBodyOmitsUnsetOptionalFields(t *testing.T) {
	id := uuid.New()
	e := &model.EntryLog{
		ID:     id,
		Roll:   "23bcs001",
		Status: model.EntryEntered,
	}

	body := EntryBody(e)

	assert.Equal(t, id, body["entryId"])
	assert.Equal(t, "23bcs001", body["roll"])
	assert.Equal(t, "ENTERED", body["status"])
	assert.NotContains(t, body, "entryFlag")
	assert.NotContains(t, body, "laptop")
	assert.NotContains(t, body, "scannedAt")
}

func TestEntryBodyIncludesSetOptionalFields(t *testing.T) {
	flag := model.ForcedEntry
	laptop := "L-42"
	now := time.Now().UTC()
	e := &model.EntryLog{
		ID:        uuid.New(),
		Roll:      "23bcs002",
		Status:    model.EntryExpired,
		EntryFlag: &flag,
		Laptop:    &laptop,
		ScannedAt: &now,
		Extra:     []model.ExtraItem{{Key: "bag", Value: "yes"}},
	}

	body := EntryBody(e)

	require.Contains(t, body, "entryFlag")
	assert.Equal(t, "FORCED_ENTRY", body["entryFlag"])
	assert.Equal(t, laptop, body["laptop"])
	assert.Equal(t, &now, body["scannedAt"])
	assert.Len(t, body["extra"], 1)
}

func TestExitBodyOmitsUnsetEntryID(t *testing.T) {
	x := &model.ExitLog{
		ID:       uuid.New(),
		Roll:     "23bcs003",
		ExitFlag: model.OrphanExit,
	}

	body := ExitBody(x)

	assert.Equal(t, "ORPHAN_EXIT", body["exitFlag"])
	assert.NotContains(t, body, "entryId")
}

func TestExitBodyIncludesEntryIDWhenResolved(t *testing.T) {
	entryID := uuid.New()
	x := &model.ExitLog{
		ID:       uuid.New(),
		Roll:     "23bcs004",
		EntryID:  &entryID,
		ExitFlag: model.NormalExit,
	}

	body := ExitBody(x)

	assert.Equal(t, entryID, body["entryId"])
}
