package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusConstants(t *testing.T) {
	// 持久化与交易所回报对比依赖这些字面值
	assert.Equal(t, "NEW", string(StatusNew))
	assert.Equal(t, "PARTIALLY_FILLED", string(StatusPartiallyFilled))
	assert.Equal(t, "FILLED", string(StatusFilled))
	assert.Equal(t, "CANCELED", string(StatusCanceled))
	assert.Equal(t, "REJECTED", string(StatusRejected))
	assert.Equal(t, "EXPIRED", string(StatusExpired))
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusFilled.IsTerminal())
	assert.True(t, StatusExpired.IsTerminal())
	assert.False(t, StatusNew.IsTerminal())
	assert.False(t, StatusPartiallyFilled.IsTerminal())
}

func TestParseSide(t *testing.T) {
	s, ok := ParseSide(" buy ")
	assert.True(t, ok)
	assert.Equal(t, SideBuy, s)
	assert.Equal(t, SideSell, s.Opposite())

	_, ok = ParseSide("HOLD")
	assert.False(t, ok)
}

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()

	assert.NoError(t, sm.ValidateTransition(AttemptPending, AttemptSubmitted))
	assert.NoError(t, sm.ValidateTransition(AttemptSubmitted, AttemptFromStatus(StatusFilled)))
	assert.NoError(t, sm.ValidateTransition(AttemptSubmitted, AttemptSubmitFailed))
	assert.NoError(t, sm.ValidateTransition(AttemptFromStatus(StatusNew), AttemptFromStatus(StatusPartiallyFilled)))
	assert.NoError(t, sm.ValidateTransition(AttemptSubmitted, AttemptSubmitted))

	assert.Error(t, sm.ValidateTransition(AttemptPending, AttemptFromStatus(StatusFilled)))
	assert.Error(t, sm.ValidateTransition(AttemptFromStatus(StatusFilled), AttemptFromStatus(StatusNew)))
	assert.Error(t, sm.ValidateTransition(AttemptSubmitFailed, AttemptSubmitted))

	assert.True(t, sm.IsFinalState(AttemptSubmitFailed))
	assert.True(t, sm.IsFinalState(AttemptFromStatus(StatusRejected)))
	assert.False(t, sm.IsFinalState(AttemptSubmitted))
	assert.False(t, sm.IsFinalState(AttemptFromStatus(StatusNew)))
}
