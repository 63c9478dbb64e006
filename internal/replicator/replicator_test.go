package replicator

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/library-systems/gatehouse/internal/model"
)

func TestBackoffDurationCapsAtFiveMinutes(t *testing.T) {
	d := backoffDuration(50)
	assert.LessOrEqual(t, d, 300*time.Second)
	assert.Greater(t, d, 0*time.Second)
}

func TestBackoffDurationGrowsWithAttempt(t *testing.T) {
	// The jitter term is at most 2s, so attempt 3 (8s+jitter) must still be
	// strictly less than attempt 6's floor (64s).
	d3 := backoffDuration(3)
	d6 := backoffDuration(6)
	assert.Less(t, d3, d6)
}

func TestTruncateErrorLeavesShortMessagesAlone(t *testing.T) {
	assert.Equal(t, "boom", truncateError("boom"))
}

func TestTruncateErrorCapsLongMessages(t *testing.T) {
	long := make([]byte, maxStoredErrorLen+100)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateError(string(long))
	assert.Len(t, got, maxStoredErrorLen)
}

func TestClassifyBatchSplitsAckedRejectedAndUnresolved(t *testing.T) {
	acked := uuid.New()
	rejected := uuid.New()
	silent := uuid.New()
	batch := []*model.OutboxEvent{
		{EventID: acked},
		{EventID: rejected},
		{EventID: silent},
	}
	resp := &model.SyncResponse{
		AckedEventIDs: []string{acked.String()},
		Rejected:      []model.RejectedEvent{{EventID: rejected.String(), Error: "invalid eventId"}},
	}

	groups := classifyBatch(batch, resp)

	require.Len(t, groups.ackIDs, 1)
	assert.Equal(t, acked, groups.ackIDs[0])

	require.Len(t, groups.rejected, 1)
	assert.Equal(t, rejected, groups.rejected[0].id)
	assert.Equal(t, "invalid eventId", groups.rejected[0].reason)

	require.Len(t, groups.unresolved, 1)
	assert.Equal(t, silent, groups.unresolved[0].EventID)
}

func TestToWireEventsSetsIDAndTypeFromOutboxRow(t *testing.T) {
	id := uuid.New()
	batch := []*model.OutboxEvent{
		{
			EventID:   id,
			EventType: model.EventEntry,
			Payload:   map[string]interface{}{"roll": "23bcs001", "status": "ENTERED"},
		},
	}

	events, err := toWireEvents(batch)

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].EventID)
	assert.Equal(t, model.EventEntry, events[0].Type)
	assert.Equal(t, "23bcs001", events[0].Roll)
}
