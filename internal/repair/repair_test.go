package repair

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/library-systems/gatehouse/internal/model"
)

func TestEntryToWireEventUsesRowIDAsEventID(t *testing.T) {
	flag := model.NormalEntry
	e := &model.EntryLog{ID: uuid.New(), Roll: "23bcs001", Status: model.EntryEntered, EntryFlag: &flag}

	we := entryToWireEvent(e)

	assert.Equal(t, e.ID, we.EventID)
	assert.Equal(t, model.EventEntry, we.Type)
	require.NotNil(t, we.EntryID)
	assert.Equal(t, e.ID, *we.EntryID)
	assert.Equal(t, "ENTERED", *we.Status)
}

func TestExitToWireEventUsesRowIDAsEventID(t *testing.T) {
	entryID := uuid.New()
	x := &model.ExitLog{ID: uuid.New(), Roll: "23bcs002", EntryID: &entryID, ExitFlag: model.OrphanExit}

	we := exitToWireEvent(x)

	assert.Equal(t, x.ID, we.EventID)
	assert.Equal(t, model.EventExit, we.Type)
	assert.Equal(t, entryID, *we.EntryID)
	assert.Equal(t, "ORPHAN_EXIT", *we.ExitFlag)
}

type fakeSender struct {
	resp *model.SyncResponse
	err  error
}

func (f *fakeSender) Send(ctx context.Context, events []model.WireEvent) (*model.SyncResponse, error) {
	return f.resp, f.err
}

func TestSendAndTallyAccumulatesRejectedSamples(t *testing.T) {
	sender := &fakeSender{resp: &model.SyncResponse{
		Rejected: []model.RejectedEvent{
			{EventID: "a", Error: "Missing eventId"},
			{EventID: "b", Error: "Unknown event type"},
		},
	}}
	summary := &Summary{}

	err := sendAndTally(context.Background(), sender, []model.WireEvent{}, summary)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Rejected)
	assert.Len(t, summary.SampleErrors, 2)
}

func TestSendAndTallyCapsSampleErrors(t *testing.T) {
	rejected := make([]model.RejectedEvent, maxSampleErrors+3)
	for i := range rejected {
		rejected[i] = model.RejectedEvent{EventID: uuid.New().String(), Error: "boom"}
	}
	sender := &fakeSender{resp: &model.SyncResponse{Rejected: rejected}}
	summary := &Summary{}

	err := sendAndTally(context.Background(), sender, nil, summary)

	require.NoError(t, err)
	assert.Equal(t, len(rejected), summary.Rejected)
	assert.Len(t, summary.SampleErrors, maxSampleErrors)
}

func TestDefaultBatchSizeIsPositive(t *testing.T) {
	assert.Greater(t, DefaultBatchSize, 0)
}
