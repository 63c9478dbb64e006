package scanstate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/library-systems/gatehouse/internal/tokencodec"
)

func TestConvertExtraNilForEmpty(t *testing.T) {
	assert.Nil(t, convertExtra(nil))
	assert.Nil(t, convertExtra([]tokencodec.ExtraItem{}))
}

func TestConvertExtraPreservesOrderAndValues(t *testing.T) {
	in := []tokencodec.ExtraItem{{Key: "bag", Value: "yes"}, {Key: "laptopTag", Value: "dell-7"}}

	out := convertExtra(in)

	assert.Equal(t, "bag", out[0].Key)
	assert.Equal(t, "yes", out[0].Value)
	assert.Equal(t, "laptopTag", out[1].Key)
	assert.Equal(t, "dell-7", out[1].Value)
}

func TestWithClaimedEntryIDAddsKeyWithoutMutatingSource(t *testing.T) {
	claimed := uuid.New()
	src := map[string]interface{}{"scannerVersion": "1.2"}

	out := withClaimedEntryID(src, claimed)

	assert.Equal(t, claimed.String(), out["claimedEntryId"])
	assert.Equal(t, "1.2", out["scannerVersion"])
	_, stillAbsent := src["claimedEntryId"]
	assert.False(t, stillAbsent, "source map must not be mutated in place")
}

func TestWithClaimedEntryIDHandlesNilSource(t *testing.T) {
	claimed := uuid.New()

	out := withClaimedEntryID(nil, claimed)

	assert.Equal(t, claimed.String(), out["claimedEntryId"])
	assert.Len(t, out, 1)
}
