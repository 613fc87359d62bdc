package entities_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
)

func TestVerificationStatus_IsTerminal(t *testing.T) {
	assert.True(t, entities.VerificationVerified.IsTerminal())
	assert.True(t, entities.VerificationFailed.IsTerminal())
	assert.False(t, entities.VerificationPending.IsTerminal())
	assert.False(t, entities.VerificationMissing.IsTerminal())
	assert.False(t, entities.VerificationStatus("").IsTerminal())
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, entities.VerificationPending, entities.NormalizeStatus(""))
	assert.Equal(t, entities.VerificationVerified, entities.NormalizeStatus(entities.VerificationVerified))
	assert.Equal(t, entities.VerificationFailed, entities.NormalizeStatus(entities.VerificationFailed))
}

func TestEventQuery_Normalize_Defaults(t *testing.T) {
	q := entities.EventQuery{}
	q.Normalize()

	assert.Equal(t, 50, q.Limit)
	assert.Equal(t, 0, q.Offset)
	assert.Equal(t, entities.OrderByCreatedAt, q.OrderBy)
	assert.Equal(t, entities.SortDesc, q.Direction)
}

func TestEventQuery_Normalize_ClampsLimit(t *testing.T) {
	q := entities.EventQuery{Limit: 5000}
	q.Normalize()
	assert.Equal(t, 1000, q.Limit)

	q = entities.EventQuery{Limit: -5}
	q.Normalize()
	assert.Equal(t, 50, q.Limit)
}

func TestEventQuery_Normalize_NegativeOffsetClampedToZero(t *testing.T) {
	q := entities.EventQuery{Offset: -10}
	q.Normalize()
	assert.Equal(t, 0, q.Offset)
}

func TestEventQuery_Normalize_PreservesExplicitValues(t *testing.T) {
	q := entities.EventQuery{
		Limit:     10,
		Offset:    20,
		OrderBy:   entities.OrderByEpoch,
		Direction: entities.SortAsc,
	}
	q.Normalize()

	assert.Equal(t, 10, q.Limit)
	assert.Equal(t, 20, q.Offset)
	assert.Equal(t, entities.OrderByEpoch, q.OrderBy)
	assert.Equal(t, entities.SortAsc, q.Direction)
}
