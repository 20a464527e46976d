package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSince_RelativeUnits(t *testing.T) {
	before := time.Now().Add(-10 * time.Minute).Unix()
	got, err := parseSince("10m")
	require.NoError(t, err)
	assert.InDelta(t, before, got, 2)
}

func TestParseSince_BareEpoch(t *testing.T) {
	got, err := parseSince("1700000000")
	require.NoError(t, err)
	assert.Equal(t, 1700000000.0, got)
}

func TestParseSince_RejectsEpochBefore2020(t *testing.T) {
	_, err := parseSince("1000000000")
	assert.Error(t, err)
}

func TestParseSince_RejectsGarbage(t *testing.T) {
	_, err := parseSince("banana")
	assert.Error(t, err)
}

func TestParseSince_RejectsEmpty(t *testing.T) {
	_, err := parseSince("")
	assert.Error(t, err)
}
