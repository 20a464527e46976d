package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate_SingleSourcePassesThrough(t *testing.T) {
	s := Score{HealthScore: 80, Rating: "good", Components: map[string]Component{"context": {Score: 80, Weight: 1}}}
	got, ok := Aggregate([]Source{{Label: "mcp:abc", Score: s}})
	require.True(t, ok)
	assert.Equal(t, "mcp:abc", got.Source)
	assert.Equal(t, 80.0, got.HealthScore)
}

func TestAggregate_CombinesWorstAcrossSources(t *testing.T) {
	good := Score{
		HealthScore: 90, Rating: "excellent", Recommendation: "keep going",
		Components: map[string]Component{"context": {Score: 90}, "latency": {Score: 95}},
	}
	bad := Score{
		HealthScore: 40, Rating: "poor", Recommendation: "start a new session",
		Components: map[string]Component{"context": {Score: 40}, "vram": {Score: 50}},
	}
	got, ok := Aggregate([]Source{{Label: "api", Score: good}, {Label: "ollama", Score: bad}})
	require.True(t, ok)
	assert.Equal(t, "Combined (2 sources)", got.Source)
	assert.Equal(t, 40.0, got.HealthScore)
	assert.Equal(t, "start a new session", got.Recommendation)
	assert.Equal(t, 40.0, got.Components["context"].Score)
	assert.Equal(t, 95.0, got.Components["latency"].Score)
	assert.Equal(t, 50.0, got.Components["vram"].Score)
}

func TestAggregate_EmptyReturnsFalse(t *testing.T) {
	_, ok := Aggregate(nil)
	assert.False(t, ok)
}
