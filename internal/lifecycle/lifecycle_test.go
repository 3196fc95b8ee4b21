// internal/lifecycle/lifecycle_test.go
package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shiftwise/billing-backend/internal/apperr"
)

type testStatus string

const (
	statusDraft     testStatus = "draft"
	statusOpen      testStatus = "open"
	statusClosed    testStatus = "closed"
	statusAbandoned testStatus = "abandoned"
)

var testTable = Table[testStatus]{
	statusDraft: {statusOpen, statusAbandoned},
	statusOpen:  {statusClosed},
}

func TestAllowed(t *testing.T) {
	assert.True(t, testTable.Allowed(statusDraft, statusOpen))
	assert.True(t, testTable.Allowed(statusOpen, statusClosed))
	assert.False(t, testTable.Allowed(statusDraft, statusClosed))
	assert.False(t, testTable.Allowed(statusClosed, statusOpen))
}

func TestSelfTransitionRejected(t *testing.T) {
	assert.False(t, testTable.Allowed(statusDraft, statusDraft))
	assert.Error(t, testTable.Validate(statusOpen, statusOpen))
}

func TestTerminal(t *testing.T) {
	assert.False(t, testTable.Terminal(statusDraft))
	assert.False(t, testTable.Terminal(statusOpen))
	assert.True(t, testTable.Terminal(statusClosed))
	assert.True(t, testTable.Terminal(statusAbandoned))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, testTable.Validate(statusDraft, statusOpen))

	err := testTable.Validate(statusClosed, statusOpen)
	assert.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindIllegalTransition))
	assert.Contains(t, err.Error(), "closed")
	assert.Contains(t, err.Error(), "open")
}

func TestNextStatesIsACopy(t *testing.T) {
	next := testTable.NextStates(statusDraft)
	assert.Equal(t, []testStatus{statusOpen, statusAbandoned}, next)

	next[0] = statusClosed
	assert.Equal(t, []testStatus{statusOpen, statusAbandoned}, testTable.NextStates(statusDraft))
}
