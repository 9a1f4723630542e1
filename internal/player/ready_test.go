package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadinessGateTakesExactlyOnce(t *testing.T) {
	var g readinessGate
	calls := 0
	g.Set(func() { calls++ })
	assert.True(t, g.Pending())

	if fn := g.Take(); fn != nil {
		fn()
	}
	assert.Nil(t, g.Take())

	assert.Equal(t, 1, calls)
	assert.False(t, g.Pending())
}

func TestReadinessGateNewestWins(t *testing.T) {
	var g readinessGate
	first, second := 0, 0
	g.Set(func() { first++ })
	g.Set(func() { second++ })

	g.Take()()

	assert.Equal(t, 0, first, "superseded continuation must never run")
	assert.Equal(t, 1, second)
}

func TestReadinessGateTakenContinuationSurvivesReset(t *testing.T) {
	var g readinessGate
	taken := 0
	g.Set(func() { taken++ })

	fn := g.Take()
	g.Set(func() { t.Fatal("continuation set after take must not run") })
	fn()

	assert.Equal(t, 1, taken)
	assert.True(t, g.Pending())
}

func TestReadinessGateNilClears(t *testing.T) {
	var g readinessGate
	g.Set(func() { t.Fatal("cleared continuation must not run") })
	g.Set(nil)
	assert.False(t, g.Pending())
	assert.Nil(t, g.Take())
}
