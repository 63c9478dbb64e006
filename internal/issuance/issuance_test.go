package issuance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/library-systems/gatehouse/internal/model"
)

func TestConvertExtraNilForEmpty(t *testing.T) {
	assert.Nil(t, convertExtra(nil))
	assert.Nil(t, convertExtra([]model.ExtraItem{}))
}

func TestConvertExtraPreservesOrderAndValues(t *testing.T) {
	in := []model.ExtraItem{{Key: "dept", Value: "cse"}, {Key: "year", Value: "2"}}

	out := convertExtra(in)

	assert.Equal(t, "dept", out[0].Key)
	assert.Equal(t, "cse", out[0].Value)
	assert.Equal(t, "year", out[1].Key)
	assert.Equal(t, "2", out[1].Value)
}
