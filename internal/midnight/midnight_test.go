package midnight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCutoffForAppliesDefaultWhenUnset(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	cutoff := cutoffFor(0, now)

	assert.Equal(t, now.Add(-DefaultStaleHours*time.Hour), cutoff)
}

func TestCutoffForHonoursExplicitThreshold(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	cutoff := cutoffFor(6, now)

	assert.Equal(t, now.Add(-6*time.Hour), cutoff)
}

func TestCutoffForRejectsNegativeThreshold(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	cutoff := cutoffFor(-5, now)

	assert.Equal(t, now.Add(-DefaultStaleHours*time.Hour), cutoff)
}
