package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeFlag(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseTimeFlag("from", "", now)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseTimeFlag("from", "2026-03-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseTimeFlag("before", "48h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-48*time.Hour), *got)

	for _, bad := range []string{"yesterday", "-5h", "0s"} {
		_, err = parseTimeFlag("before", bad, now)
		assert.ErrorContains(t, err, "--before", bad)
	}
}
