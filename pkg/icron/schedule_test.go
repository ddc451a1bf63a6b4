package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	ref := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	next, err := NextRun("0 3 * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC), next)
}

func TestNextRun_InvalidExpression(t *testing.T) {
	_, err := NextRun("not a cron expr", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestNextRuns(t *testing.T) {
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	runs, err := NextRuns("0 3 * * *", ref, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC), runs[0])
	assert.Equal(t, time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC), runs[1])
	assert.Equal(t, time.Date(2025, 6, 3, 3, 0, 0, 0, time.UTC), runs[2])
}
